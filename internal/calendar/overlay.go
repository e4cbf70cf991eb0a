package calendar

import (
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
)

// baseOccurrence renders a raw occurrence with the series defaults.
func baseOccurrence(series model.Series, raw recurrence.Occurrence) model.Occurrence {
	return model.Occurrence{
		SeriesID:      series.ID,
		OriginalStart: raw.OriginalStart,
		Start:         raw.Start,
		End:           raw.End,
		Title:         series.Title,
		Description:   series.Description,
		Location:      series.Location,
		AllDay:        series.AllDay,
		Color:         series.Color,
		Recurring:     series.IsRecurring(),
	}
}

// overlay replaces only the fields the exception overrides. A moved start
// without an explicit end keeps the occurrence's duration.
func overlay(occ model.Occurrence, e model.Exception) model.Occurrence {
	duration := occ.End.Sub(occ.Start)

	if e.Title != nil {
		occ.Title = *e.Title
	}
	if e.Description != nil {
		occ.Description = *e.Description
	}
	if e.Location != nil {
		occ.Location = *e.Location
	}
	if e.AllDay != nil {
		occ.AllDay = *e.AllDay
	}

	switch {
	case e.StartTime != nil && e.EndTime != nil:
		occ.Start, occ.End = *e.StartTime, *e.EndTime
	case e.StartTime != nil:
		occ.Start = *e.StartTime
		occ.End = occ.Start.Add(duration)
	case e.EndTime != nil:
		occ.End = *e.EndTime
	}

	occ.Modified = true
	return occ
}

func exceptionIndex(exceptions []model.Exception) map[int64]model.Exception {
	idx := make(map[int64]model.Exception, len(exceptions))
	for _, e := range exceptions {
		idx[e.OriginalStart.UnixNano()] = e
	}
	return idx
}

// applyExceptions overlays exceptions onto raw occurrences by exact original
// start. Deleted occurrences are dropped. Exceptions that match no raw
// occurrence are ignored here.
func applyExceptions(series model.Series, raw []recurrence.Occurrence, exceptions []model.Exception) []model.Occurrence {
	idx := exceptionIndex(exceptions)
	out := make([]model.Occurrence, 0, len(raw))
	for _, r := range raw {
		occ := baseOccurrence(series, r)
		if e, ok := idx[r.OriginalStart.UnixNano()]; ok {
			if e.Deleted {
				continue
			}
			occ = overlay(occ, e)
		}
		out = append(out, occ)
	}
	return out
}
