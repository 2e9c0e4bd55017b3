package laps

import (
	"github.com/lapline-data/lapline/internal/gps"
)

// EventSink receives race events produced by the pipeline. The sink must
// not block: a slow bus never stalls fix processing.
type EventSink interface {
	RaceEvent(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

func (f EventSinkFunc) RaceEvent(e Event) { f(e) }

// Pipeline runs one fix to completion through detection and the state
// machine before the next is accepted. Process is called from the single
// fix-delivery goroutine; Reset may be called concurrently from the API.
type Pipeline struct {
	detector *Detector
	machine  *Machine
	sink     EventSink
}

// NewPipeline wires a detector, machine, and event sink together.
func NewPipeline(detector *Detector, machine *Machine, sink EventSink) *Pipeline {
	return &Pipeline{detector: detector, machine: machine, sink: sink}
}

// Process evaluates one fix: crossing tests against the configured
// gates, then state machine transitions, then event delivery.
func (p *Pipeline) Process(fix gps.Fix) {
	crossings := p.detector.Advance(fix)
	if len(crossings) == 0 {
		return
	}
	for _, event := range p.machine.Apply(crossings) {
		p.sink.RaceEvent(event)
	}
}

// Reset returns the race to Idle, clears lap history, and re-arms the
// detector's debounce state.
func (p *Pipeline) Reset() {
	p.machine.Reset()
	p.detector.Rearm()
}
