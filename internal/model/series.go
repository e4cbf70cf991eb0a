package model

import "time"

type ParticipationKind string

const (
	Involved ParticipationKind = "involved"
	Aware    ParticipationKind = "aware"
)

func (k ParticipationKind) Valid() bool {
	return k == Involved || k == Aware
}

// Series is a stored calendar event, recurring when RecurrenceRule is set.
type Series struct {
	ID              int64      `json:"id"`
	HouseholdID     int64      `json:"household_id"`
	OwnerID         int64      `json:"owner_id"`
	ParentSeriesID  *int64     `json:"parent_series_id,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	AllDay          bool       `json:"all_day"`
	RecurrenceRule  string     `json:"recurrence_rule,omitempty"`
	RecurrenceEnd   *time.Time `json:"recurrence_end,omitempty"`
	ReminderMinutes *int       `json:"reminder_minutes,omitempty"`
	Color           string     `json:"color"`
	Members         []Member   `json:"members"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (s Series) IsRecurring() bool {
	return s.RecurrenceRule != ""
}

func (s Series) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// MemberKind returns the participation kind of userID, or "" when not a member.
func (s Series) MemberKind(userID int64) ParticipationKind {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m.Kind
		}
	}
	return ""
}

type Member struct {
	SeriesID  int64             `json:"series_id"`
	UserID    int64             `json:"user_id"`
	Kind      ParticipationKind `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
}

// Exception overrides or deletes the occurrence of a series that originally
// started at OriginalStart. Nil override fields fall back to the series.
type Exception struct {
	ID            int64      `json:"id"`
	SeriesID      int64      `json:"series_id"`
	OriginalStart time.Time  `json:"original_start"`
	Deleted       bool       `json:"deleted"`
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Location      *string    `json:"location,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	AllDay        *bool      `json:"all_day,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasOverrides reports whether any field is overridden.
func (e Exception) HasOverrides() bool {
	return e.Title != nil || e.Description != nil || e.Location != nil ||
		e.StartTime != nil || e.EndTime != nil || e.AllDay != nil
}

// Occurrence is one concrete instance of a series as rendered after exceptions.
type Occurrence struct {
	SeriesID      int64     `json:"series_id"`
	OriginalStart time.Time `json:"original_start"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	AllDay        bool      `json:"all_day"`
	Color         string    `json:"color"`
	Recurring     bool      `json:"recurring"`
	Modified      bool      `json:"modified"`
}
