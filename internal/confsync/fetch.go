package confsync

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/track"
)

// Current is the retained configuration as read back from the broker.
// Gate lines that have never been published are nil; the scalar
// parameters fall back to their defaults.
type Current struct {
	StartLine       *LinePayload `json:"start_line"`
	LapLine         *LinePayload `json:"lap_line"`
	FinishLine      *LinePayload `json:"finish_line"`
	TotalLaps       int          `json:"total_laps"`
	IdealLapSeconds float64      `json:"ideal_lap_seconds"`
}

// CurrentFromSnapshot builds the configuration view from a store
// snapshot. The timing daemon serves reads this way: its listener
// already mirrors the retained topics into the store, and a fresh
// broker subscription here would displace the listener's.
func CurrentFromSnapshot(snap track.Snapshot) Current {
	cur := Current{
		TotalLaps:       snap.Race.TotalLaps,
		IdealLapSeconds: snap.Race.IdealLapSeconds,
	}
	if snap.Start != nil {
		p := PayloadFromSegment(*snap.Start)
		cur.StartLine = &p
	}
	if snap.Lap != nil {
		p := PayloadFromSegment(*snap.Lap)
		cur.LapLine = &p
	}
	if snap.Finish != nil {
		p := PayloadFromSegment(*snap.Finish)
		cur.FinishLine = &p
	}
	return cur
}

// Fetch subscribes to the retained configuration topics, waits up to
// timeout for the broker to replay them, and returns whatever arrived.
// Missing topics are not an error: a fresh broker simply has nothing
// retained yet.
//
// Fetch owns the subscriptions for its topics while it runs and drops
// them on return, so it must not share a bus client with an attached
// Listener; it exists for the editor backend, which never listens.
func Fetch(b bus.Bus, timeout time.Duration) (Current, error) {
	cur := Current{
		TotalLaps:       0,
		IdealLapSeconds: track.DefaultIdealLapSeconds,
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})

	record := func(topic string, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		apply()
		if !seen[topic] {
			seen[topic] = true
			if len(seen) == len(Topics) {
				close(done)
			}
		}
	}

	lineHandler := func(dst **LinePayload) bus.Handler {
		return func(topic string, payload []byte) {
			var line LinePayload
			if err := json.Unmarshal(payload, &line); err != nil {
				monitoring.Logf("confsync: bad retained payload on %s: %v", topic, err)
				return
			}
			record(topic, func() { *dst = &line })
		}
	}

	subs := map[string]bus.Handler{
		TopicStartLine:  lineHandler(&cur.StartLine),
		TopicLapLine:    lineHandler(&cur.LapLine),
		TopicFinishLine: lineHandler(&cur.FinishLine),
		TopicTotalLaps: func(topic string, payload []byte) {
			n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				monitoring.Logf("confsync: bad retained payload on %s: %q", topic, payload)
				return
			}
			record(topic, func() { cur.TotalLaps = n })
		},
		TopicIdealTime: func(topic string, payload []byte) {
			v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
			if err != nil {
				monitoring.Logf("confsync: bad retained payload on %s: %q", topic, payload)
				return
			}
			record(topic, func() { cur.IdealLapSeconds = v })
		},
	}

	for topic, h := range subs {
		if err := b.Subscribe(topic, ConfigQoS, h); err != nil {
			return cur, err
		}
	}
	defer func() {
		for _, topic := range Topics {
			if err := b.Unsubscribe(topic); err != nil {
				monitoring.Logf("confsync: unsubscribe %s: %v", topic, err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	mu.Lock()
	defer mu.Unlock()
	return cur, nil
}
