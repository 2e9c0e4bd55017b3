// Package publish carries race events and GPS status from the timing
// pipeline to the broker without ever blocking it. Events are queued
// on a bounded channel and written from a single background goroutine;
// when the queue is full the newest message is dropped with a warning,
// because a stale lap event is worth less than a stalled detector.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/timeutil"
)

// Broker topics for live traffic.
const (
	TopicLaps   = "race/laps"
	TopicStatus = "gps/status"
)

// EventQoS is used for race events. At-least-once is enough: events
// carry absolute lap numbers, so a duplicate is detectable downstream.
const EventQoS = 1

// DefaultQueueSize bounds the outbound event queue.
const DefaultQueueSize = 64

// DefaultStatusInterval is the minimum spacing between retained status
// publishes. GPS fixes arrive faster than anyone needs status updates.
const DefaultStatusInterval = time.Second

// StatusSource yields the current receiver status on demand.
type StatusSource interface {
	Status() gps.Status
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher drains queued messages onto the bus. It implements
// laps.EventSink so it can sit directly behind the timing pipeline.
type Publisher struct {
	bus    bus.Bus
	clock  timeutil.Clock
	queue  chan outbound
	status StatusSource

	statusInterval time.Duration
	lastStatus     time.Time
}

// New returns a publisher writing to b. status may be nil when no
// receiver status is available, e.g. in the editor backend. A
// non-positive statusInterval falls back to DefaultStatusInterval.
func New(b bus.Bus, clock timeutil.Clock, status StatusSource, statusInterval time.Duration) *Publisher {
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}
	return &Publisher{
		bus:            b,
		clock:          clock,
		queue:          make(chan outbound, DefaultQueueSize),
		status:         status,
		statusInterval: statusInterval,
	}
}

// RaceEvent queues a race event for publication. It never blocks.
func (p *Publisher) RaceEvent(e laps.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		monitoring.Logf("publish: cannot encode %s event: %v", e.Event, err)
		return
	}
	p.enqueue(outbound{topic: TopicLaps, payload: payload})
}

// FixProcessed notes that a fix has been handled and republishes the
// retained receiver status if the minimum interval has elapsed. Called
// from the fix-delivery goroutine after each sentence.
func (p *Publisher) FixProcessed() {
	if p.status == nil {
		return
	}
	now := p.clock.Now()
	if !p.lastStatus.IsZero() && now.Sub(p.lastStatus) < p.statusInterval {
		return
	}
	p.lastStatus = now

	payload, err := json.Marshal(p.status.Status())
	if err != nil {
		monitoring.Logf("publish: cannot encode status: %v", err)
		return
	}
	p.enqueue(outbound{topic: TopicStatus, retained: true, payload: payload})
}

func (p *Publisher) enqueue(msg outbound) {
	select {
	case p.queue <- msg:
	default:
		monitoring.Logf("publish: queue full, dropping message for %s", msg.topic)
	}
}

// Run drains the queue until ctx is cancelled. Publish acknowledgement
// is not awaited; QoS 1 retransmission is the broker client's job.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.queue:
			p.bus.Publish(msg.topic, EventQoS, msg.retained, msg.payload)
		}
	}
}

// Flush synchronously drains whatever is queued right now. Used on
// shutdown so a race_finished event raced against SIGTERM still goes
// out.
func (p *Publisher) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case msg := <-p.queue:
			tok := p.bus.Publish(msg.topic, EventQoS, msg.retained, msg.payload)
			if !tok.WaitTimeout(time.Until(deadline)) {
				monitoring.Logf("publish: flush timed out with messages pending")
				return
			}
		default:
			return
		}
	}
}
