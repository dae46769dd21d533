package report

import "github.com/farouk15160/isotpperf/internal/isotp"

// Sink receives the assembler events of one observed pair.
type Sink interface {
	Progress(received, total uint32)
	Complete(s isotp.Summary)
	Abort(ev isotp.Event)
}

// Dispatch forwards ev to the matching Sink method. EventNone is dropped.
func Dispatch(s Sink, ev isotp.Event) {
	switch ev.Kind {
	case isotp.EventProgress:
		s.Progress(ev.Received, ev.Total)
	case isotp.EventComplete:
		s.Complete(ev.Summary)
	case isotp.EventAbort:
		s.Abort(ev)
	}
}

// Multi returns a Sink that forwards every event to all sinks in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

type multi []Sink

func (m multi) Progress(received, total uint32) {
	for _, s := range m {
		s.Progress(received, total)
	}
}

func (m multi) Complete(sum isotp.Summary) {
	for _, s := range m {
		s.Complete(sum)
	}
}

func (m multi) Abort(ev isotp.Event) {
	for _, s := range m {
		s.Abort(ev)
	}
}
