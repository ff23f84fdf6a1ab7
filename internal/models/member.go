package models

import "time"

// Member represents a participant in a session.
type Member struct {
	// UserID is the opaque identifier assigned by the chat platform.
	UserID string `json:"userId"`

	// DisplayName is the member's name at the time they joined.
	DisplayName string `json:"displayName"`

	// PictureURL is the member's profile image, if any.
	PictureURL string `json:"pictureUrl"`

	// JoinedAt is when the member joined the session.
	JoinedAt time.Time `json:"joinedAt"`

	// ParticipationRange is reserved for partial participation: the member takes part in
	// payments with sequence in [StartFrom, EndAt]. EndAt nil means open ended.
	// The settlement calculator does not consult it yet.
	ParticipationRange ParticipationRange `json:"participationRange"`
}

// ParticipationRange bounds the payment sequence numbers a member participates in.
type ParticipationRange struct {
	StartFrom int  `json:"startFrom"`
	EndAt     *int `json:"endAt"`
}

// Ref returns the member's reference form.
func (m Member) Ref() MemberRef {
	return MemberRef{UserID: m.UserID, DisplayName: m.DisplayName}
}
