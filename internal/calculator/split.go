package calculator

import "github.com/mmynk/tatekae/internal/models"

// Summary describes how a session's total is split per person.
type Summary struct {
	Total       int64 `json:"total"`
	PerPerson   int64 `json:"perPerson"`
	Remainder   int64 `json:"remainder"`
	MemberCount int   `json:"memberCount"`
}

// Summarize reports the total of non-deleted payments and the even per-person share.
// It uses the same counting rules as CalculateBalances.
func Summarize(payments []models.Payment, members []models.Member) Summary {
	s := Summary{MemberCount: len(members)}
	if len(members) == 0 {
		return s
	}

	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		isMember[m.UserID] = true
	}
	for _, p := range payments {
		if !p.IsDeleted && isMember[p.PaidBy.UserID] {
			s.Total += p.Amount
		}
	}

	n := int64(len(members))
	s.PerPerson = s.Total / n
	s.Remainder = s.Total % n
	return s
}

// ShareOf returns the balance entry for userID, if present.
func ShareOf(balances []models.Balance, userID string) (models.Balance, bool) {
	for _, b := range balances {
		if b.UserID == userID {
			return b, true
		}
	}
	return models.Balance{}, false
}
