package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount = errors.New("payment amount must be positive")
	ErrEmptyLabel    = errors.New("payment label required")
)

// Payment is one entry in a session's payment ledger.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string `json:"id"`

	// Sequence increases strictly within a session. Deleted payments keep their number.
	Sequence int `json:"sequence"`

	// Label is the short name of the expense (e.g., "Izakaya", "Taxi").
	Label string `json:"label"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// Amount is a positive integer in the smallest currency unit.
	Amount int64 `json:"amount"`

	// PaidBy is the member who paid.
	PaidBy MemberRef `json:"paidBy"`

	// Participants are the user IDs taking part in this payment.
	Participants []string `json:"participants"`

	Timestamp time.Time `json:"timestamp"`

	// IsDeleted marks the payment as cancelled. Payments are never physically removed.
	IsDeleted bool `json:"isDeleted"`
}

// NextSequence returns the sequence number for the next payment appended to the ledger.
func NextSequence(payments []Payment) int {
	next := 0
	for _, p := range payments {
		if p.Sequence >= next {
			next = p.Sequence + 1
		}
	}
	return next
}

// NewPayment builds the next ledger entry for session. Every current member participates.
// The session itself is not modified; callers append the result and write it back.
func NewPayment(session *Session, label string, amount int64, payer MemberRef, at time.Time) (Payment, error) {
	if amount <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return Payment{}, ErrEmptyLabel
	}
	return Payment{
		ID:           uuid.New().String(),
		Sequence:     NextSequence(session.Payments),
		Label:        label,
		Amount:       amount,
		PaidBy:       payer,
		Participants: session.MemberIDs(),
		Timestamp:    at,
	}, nil
}
