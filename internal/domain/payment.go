package domain

const (
	// CurrencyUSD is the only currency intents are created in.
	CurrencyUSD = "usd"

	PaymentMethodCard = "card"

	ChargeStatusSucceeded = "succeeded"
	ChargeStatusPending   = "pending"
	ChargeStatusFailed    = "failed"
)

// CardInput is a fully assembled card. It is never stored.
type CardInput struct {
	Number   string `json:"number" validate:"required,numeric,len=16"`
	ExpMonth int64  `json:"exp_month" validate:"required,min=1,max=12"`
	ExpYear  int64  `json:"exp_year" validate:"required,min=1000,max=9999"`
	CVC      string `json:"cvc" validate:"required,numeric,len=3"`
}

// Intent is the processor-side view of a payment intent.
type Intent struct {
	ID     string
	Status string
	// LatestChargeStatus is empty when no charge has been attempted yet.
	LatestChargeStatus string
}

// Succeeded reports whether the most recent charge on the intent succeeded.
func (i Intent) Succeeded() bool {
	return i.LatestChargeStatus == ChargeStatusSucceeded
}
