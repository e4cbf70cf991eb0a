package model

import "time"

const (
	SyncStatusPending = "pending"
	SyncStatusOK      = "ok"
	SyncStatusError   = "error"
)

type ExternalSubscription struct {
	ID             int64      `json:"id"`
	HouseholdID    int64      `json:"household_id"`
	UserID         int64      `json:"user_id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Active         bool       `json:"active"`
	ETag           string     `json:"-"`
	LastModified   string     `json:"-"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExternalEvent is one instance imported from a subscription. ExternalUID is
// the dedup key within the subscription; recurring remote events get one row
// per instance.
type ExternalEvent struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	ExternalUID    string    `json:"external_uid"`
	Title          string    `json:"title"`
	Location       string    `json:"location"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	AllDay         bool      `json:"all_day"`
	UpdatedAt      time.Time `json:"updated_at"`
}
