package domain

import "time"

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// Reserves reports whether a payout in this status still holds funds against the balance.
func (s PayoutStatus) Reserves() bool {
	return s == PayoutPending || s == PayoutCompleted
}

func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

type Payout struct {
	ID              string
	GatewayPayoutID string
	SellerID        string
	Amount          int64
	Currency        string
	PayoutAccount   string
	Description     string
	Status          PayoutStatus
	// OrderIDs is advisory attribution only.
	OrderIDs  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}
