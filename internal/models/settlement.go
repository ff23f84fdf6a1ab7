package models

import "time"

// SettlementStatus tracks whether a recommended transfer has been carried out.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
)

// Settlement is one recommended transfer from a debtor to a creditor.
type Settlement struct {
	// From is the member who owes money.
	From MemberRef `json:"from"`

	// To is the member who is owed money.
	To MemberRef `json:"to"`

	// Amount is the transfer amount.
	Amount int64 `json:"amount"`

	Status SettlementStatus `json:"status"`

	// CompletedAt is set once the transfer is confirmed.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// CompletedBy is the user ID who confirmed the transfer.
	CompletedBy string `json:"completedBy,omitempty"`
}

// Balance is the derived ledger position of one member.
type Balance struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`

	// Paid is the total this member paid out of pocket.
	Paid int64 `json:"paid"`

	// Owes is this member's share of the total.
	Owes int64 `json:"owes"`

	// Balance is Paid - Owes. Positive means the member is owed money.
	Balance int64 `json:"balance"`
}
