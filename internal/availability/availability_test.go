package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homebase/internal/model"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func iv(h1, m1, h2, m2 int) model.Interval {
	return model.Interval{Start: at(h1, m1), End: at(h2, m2)}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []model.Interval
		want []model.Interval
	}{
		{"empty", nil, []model.Interval{}},
		{"disjoint stays sorted", []model.Interval{iv(13, 0, 14, 0), iv(9, 0, 10, 0)}, []model.Interval{iv(9, 0, 10, 0), iv(13, 0, 14, 0)}},
		{"overlap", []model.Interval{iv(9, 0, 10, 30), iv(10, 0, 11, 0)}, []model.Interval{iv(9, 0, 11, 0)}},
		{"adjacent", []model.Interval{iv(9, 0, 10, 0), iv(10, 0, 11, 0)}, []model.Interval{iv(9, 0, 11, 0)}},
		{"contained", []model.Interval{iv(9, 0, 12, 0), iv(10, 0, 11, 0)}, []model.Interval{iv(9, 0, 12, 0)}},
		{"zero length dropped", []model.Interval{iv(9, 0, 9, 0), iv(10, 0, 11, 0)}, []model.Interval{iv(10, 0, 11, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.in))
		})
	}
}

func TestClip(t *testing.T) {
	got := Clip([]model.Interval{iv(7, 0, 9, 30), iv(10, 0, 11, 0), iv(16, 0, 19, 0), iv(5, 0, 6, 0)}, at(9, 0), at(17, 0))
	assert.Equal(t, []model.Interval{iv(9, 0, 9, 30), iv(10, 0, 11, 0), iv(16, 0, 17, 0)}, got)
}

func TestComplement(t *testing.T) {
	busy := []model.Interval{iv(10, 0, 11, 0), iv(9, 0, 9, 30), iv(10, 30, 12, 0)}
	got := Complement(busy, at(8, 0), at(17, 0))
	assert.Equal(t, []model.Interval{iv(8, 0, 9, 0), iv(9, 30, 10, 0), iv(12, 0, 17, 0)}, got)
}

func TestComplementNoBusy(t *testing.T) {
	got := Complement(nil, at(8, 0), at(17, 0))
	assert.Equal(t, []model.Interval{iv(8, 0, 17, 0)}, got)
}

func TestFindSlots(t *testing.T) {
	busy := []model.Interval{iv(9, 0, 9, 45), iv(10, 0, 12, 0), iv(13, 0, 16, 30)}
	slots := FindSlots(busy, at(9, 0), at(17, 0), 30*time.Minute)

	require.Len(t, slots, 2)
	assert.Equal(t, iv(12, 0, 13, 0), slots[0])
	assert.Equal(t, iv(16, 30, 17, 0), slots[1])
}

func TestFindSlotsFullyBusy(t *testing.T) {
	busy := []model.Interval{iv(8, 0, 12, 0), iv(11, 0, 18, 0)}
	slots := FindSlots(busy, at(9, 0), at(17, 0), 30*time.Minute)

	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}
