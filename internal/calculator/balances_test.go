package calculator

import (
	"math/rand"
	"testing"

	"github.com/mmynk/tatekae/internal/models"
)

func members(ids ...string) []models.Member {
	out := make([]models.Member, len(ids))
	for i, id := range ids {
		out[i] = models.Member{UserID: id, DisplayName: id}
	}
	return out
}

func payment(payer string, amount int64, participants ...string) models.Payment {
	return models.Payment{
		Label:        "test",
		Amount:       amount,
		PaidBy:       models.MemberRef{UserID: payer, DisplayName: payer},
		Participants: participants,
	}
}

func balanceMap(balances []models.Balance) map[string]models.Balance {
	m := make(map[string]models.Balance, len(balances))
	for _, b := range balances {
		m[b.UserID] = b
	}
	return m
}

func TestCalculateBalances(t *testing.T) {
	tests := []struct {
		name         string
		payments     []models.Payment
		members      []models.Member
		validateFunc func(t *testing.T, balances map[string]models.Balance)
	}{
		{
			name: "remainder goes to largest payer",
			payments: []models.Payment{
				payment("A", 5000, "A", "B", "C"),
				payment("B", 3000, "A", "B", "C"),
			},
			members: members("A", "B", "C"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				// total = 8000, perPerson = 2666, remainder = 2 -> A
				want := map[string][3]int64{
					"A": {5000, 2668, 2332},
					"B": {3000, 2666, 334},
					"C": {0, 2666, -2666},
				}
				for id, w := range want {
					got := b[id]
					if got.Paid != w[0] || got.Owes != w[1] || got.Balance != w[2] {
						t.Errorf("%s = {paid %d owes %d balance %d}, want %v", id, got.Paid, got.Owes, got.Balance, w)
					}
				}
			},
		},
		{
			name: "participant lists are ignored",
			payments: []models.Payment{
				payment("A", 900, "A"),
			},
			members: members("A", "B", "C"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				for _, id := range []string{"A", "B", "C"} {
					if b[id].Owes != 300 {
						t.Errorf("%s owes %d, want 300", id, b[id].Owes)
					}
				}
			},
		},
		{
			name: "deleted payments are excluded",
			payments: []models.Payment{
				payment("A", 1000, "A", "B"),
				func() models.Payment {
					p := payment("B", 5000, "A", "B")
					p.IsDeleted = true
					return p
				}(),
			},
			members: members("A", "B"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				if b["A"].Balance != 500 || b["B"].Balance != -500 {
					t.Errorf("balances A=%d B=%d, want 500/-500", b["A"].Balance, b["B"].Balance)
				}
				if b["B"].Paid != 0 {
					t.Errorf("B paid %d, want 0", b["B"].Paid)
				}
			},
		},
		{
			name: "payer outside member list is ignored",
			payments: []models.Payment{
				payment("X", 7000, "A", "B"),
				payment("A", 100, "A", "B"),
			},
			members: members("A", "B"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				if b["A"].Owes != 50 || b["B"].Owes != 50 {
					t.Errorf("owes A=%d B=%d, want 50/50", b["A"].Owes, b["B"].Owes)
				}
			},
		},
		{
			name: "tie for largest payer goes to first member",
			payments: []models.Payment{
				payment("B", 500),
				payment("C", 500),
			},
			members: members("A", "B", "C"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				// total 1000, perPerson 333, remainder 1 -> B (first of the tied payers)
				if b["B"].Owes != 334 || b["C"].Owes != 333 || b["A"].Owes != 333 {
					t.Errorf("owes A=%d B=%d C=%d", b["A"].Owes, b["B"].Owes, b["C"].Owes)
				}
			},
		},
		{
			name:     "no payments",
			payments: nil,
			members:  members("A", "B"),
			validateFunc: func(t *testing.T, b map[string]models.Balance) {
				for id, bal := range b {
					if bal.Balance != 0 || bal.Owes != 0 {
						t.Errorf("%s = %+v, want zero", id, bal)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := CalculateBalances(tt.payments, tt.members)
			if len(balances) != len(tt.members) {
				t.Fatalf("got %d balances, want %d", len(balances), len(tt.members))
			}
			for i, m := range tt.members {
				if balances[i].UserID != m.UserID {
					t.Errorf("balance %d is %s, want member order %s", i, balances[i].UserID, m.UserID)
				}
			}
			assertZeroSum(t, balances)
			tt.validateFunc(t, balanceMap(balances))
		})
	}
}

func TestCalculateBalances_NoMembers(t *testing.T) {
	balances := CalculateBalances([]models.Payment{payment("A", 100)}, nil)
	if len(balances) != 0 {
		t.Errorf("expected no balances, got %d", len(balances))
	}
}

func TestCalculateSettlements_WorkedExample(t *testing.T) {
	balances := CalculateBalances([]models.Payment{
		payment("A", 5000, "A", "B", "C"),
		payment("B", 3000, "A", "B", "C"),
	}, members("A", "B", "C"))

	settlements := CalculateSettlements(balances)
	if len(settlements) != 2 {
		t.Fatalf("got %d settlements, want 2: %+v", len(settlements), settlements)
	}

	want := []struct {
		from, to string
		amount   int64
	}{
		{"C", "A", 2332},
		{"C", "B", 334},
	}
	for i, w := range want {
		s := settlements[i]
		if s.From.UserID != w.from || s.To.UserID != w.to || s.Amount != w.amount {
			t.Errorf("settlement %d = %s->%s %d, want %s->%s %d",
				i, s.From.UserID, s.To.UserID, s.Amount, w.from, w.to, w.amount)
		}
		if s.Status != models.SettlementPending {
			t.Errorf("settlement %d status = %s, want pending", i, s.Status)
		}
	}
}

func TestCalculateSettlements_Empty(t *testing.T) {
	settlements := CalculateSettlements([]models.Balance{
		{UserID: "A", Balance: 0},
		{UserID: "B", Balance: 0},
	})
	if len(settlements) != 0 {
		t.Errorf("expected no settlements, got %+v", settlements)
	}
}

// TestLedgerProperties checks the netting invariants over random ledgers.
func TestLedgerProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"A", "B", "C", "D", "E", "F", "G"}

	for round := 0; round < 200; round++ {
		ms := members(ids[:1+rng.Intn(len(ids))]...)
		var payments []models.Payment
		for k := rng.Intn(12); k > 0; k-- {
			p := payment(ms[rng.Intn(len(ms))].UserID, 1+rng.Int63n(20000))
			p.IsDeleted = rng.Intn(5) == 0
			payments = append(payments, p)
		}

		balances := CalculateBalances(payments, ms)
		assertZeroSum(t, balances)

		settlements := CalculateSettlements(balances)
		if len(settlements) > len(ms)-1 && len(ms) > 0 {
			t.Fatalf("round %d: %d settlements for %d members", round, len(settlements), len(ms))
		}

		received := make(map[string]int64)
		sent := make(map[string]int64)
		var transferred, positive int64
		for _, s := range settlements {
			if s.Amount <= 0 {
				t.Fatalf("round %d: non-positive transfer %+v", round, s)
			}
			received[s.To.UserID] += s.Amount
			sent[s.From.UserID] += s.Amount
			transferred += s.Amount
		}
		for _, b := range balances {
			if b.Balance > 0 {
				positive += b.Balance
				if received[b.UserID] != b.Balance {
					t.Fatalf("round %d: creditor %s received %d, balance %d", round, b.UserID, received[b.UserID], b.Balance)
				}
			}
			if b.Balance < 0 && sent[b.UserID] != -b.Balance {
				t.Fatalf("round %d: debtor %s sent %d, balance %d", round, b.UserID, sent[b.UserID], b.Balance)
			}
		}
		if transferred != positive {
			t.Fatalf("round %d: transferred %d, positive balances %d", round, transferred, positive)
		}
	}
}

func TestSummarize(t *testing.T) {
	ms := members("A", "B", "C")
	deleted := payment("A", 999)
	deleted.IsDeleted = true
	s := Summarize([]models.Payment{payment("A", 5000), payment("B", 3000), deleted}, ms)

	if s.Total != 8000 || s.PerPerson != 2666 || s.Remainder != 2 || s.MemberCount != 3 {
		t.Errorf("Summarize = %+v", s)
	}

	if empty := Summarize(nil, nil); empty.Total != 0 || empty.PerPerson != 0 {
		t.Errorf("empty Summarize = %+v", empty)
	}
}

func TestShareOf(t *testing.T) {
	balances := CalculateBalances([]models.Payment{payment("A", 300)}, members("A", "B", "C"))
	b, ok := ShareOf(balances, "B")
	if !ok || b.Owes != 100 {
		t.Errorf("ShareOf(B) = %+v, %v", b, ok)
	}
	if _, ok := ShareOf(balances, "Z"); ok {
		t.Error("ShareOf found a non-member")
	}
}

func assertZeroSum(t *testing.T, balances []models.Balance) {
	t.Helper()
	var sum int64
	for _, b := range balances {
		if b.Balance != b.Paid-b.Owes {
			t.Errorf("%s balance %d != paid %d - owes %d", b.UserID, b.Balance, b.Paid, b.Owes)
		}
		sum += b.Balance
	}
	if sum != 0 {
		t.Errorf("balances sum to %d, want 0", sum)
	}
}
