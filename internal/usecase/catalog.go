package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"voice-checkout/internal/domain"
)

// ProductCatalog resolves products and their unit price.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CatalogService answers product and shipping questions asked during checkout.
type CatalogService struct {
	catalog        ProductCatalog
	shipping       domain.ShippingInfo
	publishableKey string
	log            *slog.Logger
}

// NewCatalogService returns a service quoting every address with the flat shipping quote.
func NewCatalogService(catalog ProductCatalog, shipping domain.ShippingInfo, publishableKey string, log *slog.Logger) (*CatalogService, error) {
	if catalog == nil {
		return nil, errors.New("usecase: product catalog must not be nil")
	}
	if strings.TrimSpace(publishableKey) == "" {
		return nil, errors.New("usecase: publishable key must not be empty")
	}
	if shipping.Price < 0 || shipping.Taxes < 0 || shipping.TimeDays < 0 {
		return nil, errors.New("usecase: shipping quote must not be negative")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CatalogService{
		catalog:        catalog,
		shipping:       shipping,
		publishableKey: publishableKey,
		log:            log,
	}, nil
}

func (s *CatalogService) ProductInfo(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, newError(ErrorInvalidInput, "empty_product_id", nil)
	}
	s.log.Info("searching product", "product_id", productID)
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return domain.Product{}, newError(ErrorProductNotFound, "unknown_product", err)
		}
		return domain.Product{}, newError(ErrorUpstream, "catalog_error", err)
	}
	s.log.Info("found product", "product_id", p.ProductID, "price", p.Price)
	return p, nil
}

// ShippingInfo quotes delivery to the address. The quote is currently flat.
func (s *CatalogService) ShippingInfo(_ context.Context, address domain.AddressData) (domain.ShippingInfo, error) {
	if strings.TrimSpace(address.HouseNumber+address.StreetName+address.StreetD) == "" {
		return domain.ShippingInfo{}, newError(ErrorInvalidInput, "empty_address", nil)
	}
	s.log.Info("quoting shipping", "street", address.StreetName, "price", s.shipping.Price, "time_days", s.shipping.TimeDays)
	return s.shipping, nil
}

func (s *CatalogService) PublishableKey() string {
	return s.publishableKey
}
