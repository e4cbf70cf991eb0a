package model

import "time"

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

type FreeBusy struct {
	UserID int64      `json:"user_id"`
	Busy   []Interval `json:"busy"`
}
