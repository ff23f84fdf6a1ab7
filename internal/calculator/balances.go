package calculator

import (
	"cmp"
	"slices"

	"github.com/mmynk/tatekae/internal/models"
)

// CalculateBalances computes paid, owes and balance for every member.
//
// Split policy: the total of all non-deleted payments is divided evenly across
// all members, regardless of each payment's participant list. The floor division
// remainder is added to the share of the member who paid the most (ties go to
// whoever comes first in member order). Payments whose payer is not a member are
// ignored so that balances always sum to zero.
//
// The result preserves member order.
func CalculateBalances(payments []models.Payment, members []models.Member) []models.Balance {
	if len(members) == 0 {
		return []models.Balance{}
	}

	balances := make([]models.Balance, len(members))
	index := make(map[string]int, len(members))
	for i, m := range members {
		balances[i] = models.Balance{UserID: m.UserID, DisplayName: m.DisplayName}
		index[m.UserID] = i
	}

	var total int64
	for _, p := range payments {
		if p.IsDeleted {
			continue
		}
		i, ok := index[p.PaidBy.UserID]
		if !ok {
			continue
		}
		balances[i].Paid += p.Amount
		total += p.Amount
	}

	n := int64(len(members))
	perPerson := total / n
	remainder := total % n

	// Largest payer absorbs the remainder.
	largest := 0
	for i := range balances {
		if balances[i].Paid > balances[largest].Paid {
			largest = i
		}
	}

	for i := range balances {
		balances[i].Owes = perPerson
		if i == largest {
			balances[i].Owes += remainder
		}
		balances[i].Balance = balances[i].Paid - balances[i].Owes
	}

	return balances
}

// CalculateSettlements computes the transfers that net all balances to zero.
//
// Algorithm (greedy):
// - Split members into debtors (balance < 0) and creditors (balance > 0)
// - Sort both descending by magnitude
// - Match the largest remaining debtor with the largest remaining creditor,
// transfer min(debt, credit), and advance whichever side reaches zero
//
// Produces at most len(balances)-1 transfers. Ties keep input order, so the
// result is deterministic.
func CalculateSettlements(balances []models.Balance) []models.Settlement {
	type party struct {
		ref    models.MemberRef
		amount int64
	}

	var debtors, creditors []party
	for _, b := range balances {
		ref := models.MemberRef{UserID: b.UserID, DisplayName: b.DisplayName}
		switch {
		case b.Balance < 0:
			debtors = append(debtors, party{ref: ref, amount: -b.Balance})
		case b.Balance > 0:
			creditors = append(creditors, party{ref: ref, amount: b.Balance})
		}
	}

	byAmountDesc := func(a, b party) int { return cmp.Compare(b.amount, a.amount) }
	slices.SortStableFunc(debtors, byAmountDesc)
	slices.SortStableFunc(creditors, byAmountDesc)

	settlements := []models.Settlement{}
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		debtor := &debtors[i]
		creditor := &creditors[j]

		amount := min(debtor.amount, creditor.amount)
		settlements = append(settlements, models.Settlement{
			From:   debtor.ref,
			To:     creditor.ref,
			Amount: amount,
			Status: models.SettlementPending,
		})

		debtor.amount -= amount
		creditor.amount -= amount

		if debtor.amount == 0 {
			i++
		}
		if creditor.amount == 0 {
			j++
		}
	}

	return settlements
}
