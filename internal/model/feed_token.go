package model

import "time"

type FeedToken struct {
	ID          int64      `json:"id"`
	HouseholdID int64      `json:"household_id"`
	UserID      int64      `json:"user_id"`
	Label       string     `json:"label"`
	Token       string     `json:"token,omitempty"` // plaintext, only set on creation
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	// Hash of the last rendered feed and when it last changed; drives Last-Modified.
	ContentHash      string     `json:"-"`
	ContentChangedAt *time.Time `json:"-"`
}
