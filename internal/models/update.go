package models

import "slices"

// SessionUpdate is a partial update merged into a cached session.
// Nil fields are left unchanged. To clear a list, pass an empty non-nil slice.
type SessionUpdate struct {
	GroupName   *string
	Status      *Status
	Members     []Member
	Payments    []Payment
	Settlements []Settlement
	Reminder    *Reminder
}

// Apply merges u into s. UpdatedAt is not touched; the cache owns that timestamp.
func (u SessionUpdate) Apply(s *Session) {
	if u.GroupName != nil {
		s.GroupName = *u.GroupName
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Members != nil {
		s.Members = cloneMembers(u.Members)
	}
	if u.Payments != nil {
		s.Payments = clonePayments(u.Payments)
	}
	if u.Settlements != nil {
		s.Settlements = slices.Clone(u.Settlements)
	}
	if u.Reminder != nil {
		s.Reminder = u.Reminder.clone()
	}
}

// IsEmpty reports whether the update sets no fields.
func (u SessionUpdate) IsEmpty() bool {
	return u.GroupName == nil && u.Status == nil && u.Members == nil &&
		u.Payments == nil && u.Settlements == nil && u.Reminder == nil
}
