package confsync

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/track"
)

// Listener is the consumer role of the configuration synchronizer: it
// subscribes to the retained topics and applies each received value
// wholesale to the track store. Topics are independent, so geometry and
// race parameters arrive asynchronously; the detector simply stays
// inert until the gates it needs have been filled in.
type Listener struct {
	store *track.Store
}

// NewListener returns a listener writing into store.
func NewListener(store *track.Store) *Listener {
	return &Listener{store: store}
}

// Attach subscribes to all configuration topics on b. The bus replays
// subscriptions on reconnect, so retained values are redelivered after
// every connection loss.
func (l *Listener) Attach(b bus.Bus) error {
	for gate, topic := range gateTopics {
		gate := gate
		if err := b.Subscribe(topic, ConfigQoS, func(topic string, payload []byte) {
			l.applyLine(gate, topic, payload)
		}); err != nil {
			return err
		}
	}
	if err := b.Subscribe(TopicTotalLaps, ConfigQoS, l.applyTotalLaps); err != nil {
		return err
	}
	return b.Subscribe(TopicIdealTime, ConfigQoS, l.applyIdealTime)
}

func (l *Listener) applyLine(gate track.Gate, topic string, payload []byte) {
	var line LinePayload
	if err := json.Unmarshal(payload, &line); err != nil {
		monitoring.Logf("confsync: bad payload on %s: %v", topic, err)
		return
	}
	if err := l.store.SetGate(gate, line.Segment()); err != nil {
		monitoring.Logf("confsync: rejected %s: %v", topic, err)
		return
	}
	monitoring.Logf("confsync: %s line updated: %+v", gate, line)
}

func (l *Listener) applyTotalLaps(topic string, payload []byte) {
	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		monitoring.Logf("confsync: bad payload on %s: %q", topic, payload)
		return
	}
	if err := l.store.SetTotalLaps(n); err != nil {
		monitoring.Logf("confsync: rejected %s: %v", topic, err)
		return
	}
	monitoring.Logf("confsync: total laps updated: %d", n)
}

func (l *Listener) applyIdealTime(topic string, payload []byte) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		monitoring.Logf("confsync: bad payload on %s: %q", topic, payload)
		return
	}
	if err := l.store.SetIdealLapSeconds(v); err != nil {
		monitoring.Logf("confsync: rejected %s: %v", topic, err)
		return
	}
	monitoring.Logf("confsync: ideal lap time updated: %.1fs", v)
}
