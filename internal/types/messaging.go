package types

import "time"

// BalanceAlertMessage is published to the balance alerts queue when a debit
// moves an account into the low or critical band. Consumers (email, in-app
// banners) live outside this service.
type BalanceAlertMessage struct {
	AlertID      string       `json:"alert_id"`
	AccountID    string       `json:"account_id"`
	Level        BalanceLevel `json:"level"`
	TotalBalance int          `json:"total_balance"`
	Plan         PlanTier     `json:"plan"`
	OccurredAt   time.Time    `json:"occurred_at"`
}
