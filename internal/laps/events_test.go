package laps

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []LapRecord{
		{Number: 1, Start: base, End: base.Add(60 * time.Second), Seconds: 60},
		{Number: 2, Start: base.Add(60 * time.Second), End: base.Add(118 * time.Second), Seconds: 58},
		{Number: 3, Start: base.Add(118 * time.Second), End: base.Add(180 * time.Second), Seconds: 62},
	}

	got := summarize(records)
	want := &LapSummary{Laps: 3, BestSeconds: 58, MeanSeconds: 60, StddevSeconds: 2}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeSingleLapHasNoStddev(t *testing.T) {
	got := summarize([]LapRecord{{Number: 1, Seconds: 61.5}})
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Laps)
	assert.InDelta(t, 61.5, got.BestSeconds, 1e-9)
	assert.Zero(t, got.StddevSeconds)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Nil(t, summarize(nil))
}

func TestEventStampMillisecondUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	at := time.Date(2026, 8, 31, 14, 30, 5, 123_000_000, loc)
	assert.Equal(t, "2026-08-31T12:30:05.123Z", eventStamp(at))
}

func TestEventWireFormatOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(Event{
		Event:             EventRaceStarted,
		Timestamp:         "2026-08-31T12:00:00.000Z",
		TotalLaps:         5,
		LapNumberStarting: 1,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "race_started",
		"timestamp": "2026-08-31T12:00:00.000Z",
		"total_laps": 5,
		"lap_number_starting": 1
	}`, string(b))
}
