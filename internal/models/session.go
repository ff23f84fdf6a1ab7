package models

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive sessions accept payments and are kept in the hot cache.
	StatusActive Status = "active"

	// StatusSettled sessions have computed settlements but have not been closed.
	StatusSettled Status = "settled"

	// StatusCompleted sessions are closed. They are retained durably for
	// history and statistics but are invisible to the primary lookup.
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSettled, StatusCompleted:
		return true
	}
	return false
}

// Live reports whether the session is visible to the primary lookup.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusSettled
}

// MemberRef is a lightweight reference to a member, embedded in payments and settlements.
type MemberRef struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Reminder holds the settlement reminder state for a session.
type Reminder struct {
	Enabled     bool       `json:"enabled"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	Count       int        `json:"count"`
}

// Session is one expense-splitting session for a chat group.
// It is the aggregate persisted as a single document by the ledger store.
type Session struct {
	// GroupID is the chat group identifier and the primary key.
	GroupID string `json:"groupId"`

	// GroupName is the display name of the group, if known.
	GroupName string `json:"groupName"`

	// CreatedAt is when the session was started.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updatedAt"`

	// CreatedBy is the member who started the session.
	CreatedBy MemberRef `json:"createdBy"`

	Status Status `json:"status"`

	// Members is the ordered member list. Order matters for remainder assignment
	// ties in the settlement calculator.
	Members []Member `json:"members"`

	// Payments is the append-only ledger. Entries are soft deleted, never removed.
	Payments []Payment `json:"payments"`

	// Settlements is the last computed transfer list. Derived state.
	Settlements []Settlement `json:"settlements"`

	Reminder Reminder `json:"reminder"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = cloneMembers(s.Members)
	c.Payments = clonePayments(s.Payments)
	c.Settlements = slices.Clone(s.Settlements)
	c.Reminder = s.Reminder.clone()
	return &c
}

func cloneMembers(members []Member) []Member {
	if members == nil {
		return nil
	}
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = m
		if m.ParticipationRange.EndAt != nil {
			end := *m.ParticipationRange.EndAt
			out[i].ParticipationRange.EndAt = &end
		}
	}
	return out
}

func clonePayments(payments []Payment) []Payment {
	if payments == nil {
		return nil
	}
	out := make([]Payment, len(payments))
	for i, p := range payments {
		out[i] = p
		out[i].Participants = slices.Clone(p.Participants)
	}
	return out
}

func (r Reminder) clone() Reminder {
	if r.ScheduledAt != nil {
		t := *r.ScheduledAt
		r.ScheduledAt = &t
	}
	if r.SentAt != nil {
		t := *r.SentAt
		r.SentAt = &t
	}
	return r
}

// ActivePayments returns the payments that have not been soft deleted, in ledger order.
func (s *Session) ActivePayments() []Payment {
	active := make([]Payment, 0, len(s.Payments))
	for _, p := range s.Payments {
		if !p.IsDeleted {
			active = append(active, p)
		}
	}
	return active
}

// HasMember reports whether userID exactly matches one of the session's members.
func (s *Session) HasMember(userID string) bool {
	return s.Member(userID) != nil
}

// Member returns the member with the given user ID, or nil.
func (s *Session) Member(userID string) *Member {
	for i := range s.Members {
		if s.Members[i].UserID == userID {
			return &s.Members[i]
		}
	}
	return nil
}

// AddMember appends m unless a member with the same user ID is already present.
// It reports whether the member was added.
func (s *Session) AddMember(m Member) bool {
	if s.HasMember(m.UserID) {
		return false
	}
	s.Members = append(s.Members, m)
	return true
}

// MemberIDs returns the user IDs of all members in order.
func (s *Session) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.UserID
	}
	return ids
}

// CancelLastPayment soft deletes the most recent payment that is not already deleted
// and returns a copy of it. It returns false when there is nothing to cancel.
func (s *Session) CancelLastPayment() (Payment, bool) {
	for i := len(s.Payments) - 1; i >= 0; i-- {
		if !s.Payments[i].IsDeleted {
			s.Payments[i].IsDeleted = true
			return s.Payments[i], true
		}
	}
	return Payment{}, false
}

// NewSession builds an active session started by creator, who becomes the first member.
func NewSession(groupID, groupName string, creator Member, now time.Time) *Session {
	if creator.JoinedAt.IsZero() {
		creator.JoinedAt = now
	}
	return &Session{
		GroupID:   groupID,
		GroupName: groupName,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: creator.Ref(),
		Status:    StatusActive,
		Members:   []Member{creator},
		Payments:  []Payment{},
		// Settlements stays empty until the first settle.
		Settlements: []Settlement{},
		Reminder:    Reminder{Enabled: true},
	}
}
