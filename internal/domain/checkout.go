package domain

// Product is the catalog view of a purchasable item. Price is in cents.
type Product struct {
	ProductID   string `json:"product_id"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// AddressData is the structured address collected by the dialogue.
type AddressData struct {
	HouseNumber string `json:"housenumber"`
	StreetName  string `json:"streetname"`
	StreetD     string `json:"streetd"`
}

// ShippingInfo is the raw quote returned by the quote service. Amounts are in cents.
type ShippingInfo struct {
	Price    int64 `json:"price"`
	TimeDays int   `json:"time_days"`
	Taxes    int64 `json:"taxes"`
}

// DeliveryDate holds the calendar fields spoken back to the customer.
type DeliveryDate struct {
	Month     string `json:"month"`
	Date      string `json:"date"`
	DayOfWeek string `json:"day_of_week"`
}

// ShippingQuote is a ShippingInfo enriched for the dialogue.
type ShippingQuote struct {
	ShippingInfo
	AddressName  string       `json:"address_name"`
	DeliveryDate DeliveryDate `json:"delivery_date"`
}

// ExpiryDate is a parsed card expiry.
type ExpiryDate struct {
	ExpMonthName string `json:"exp_month_str"`
	ExpMonth     int    `json:"exp_month"`
	ExpYear      int    `json:"exp_year"`
}
