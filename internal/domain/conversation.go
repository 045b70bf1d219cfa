package domain

// ConversationSession correlates one conversation with its in-flight payment.
type ConversationSession struct {
	ConversationID  string
	PaymentIntentID string
	TTL             int64
}

// NumberWord is a single recognized spoken token carrying one digit or a digit group.
type NumberWord struct {
	Value string `json:"value"`
}
