// Package monitor runs the receive loop that feeds observed frames into the
// ISO-TP assembler and reports the resulting events.
package monitor

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/canframe"
	"github.com/farouk15160/isotpperf/internal/cansource"
	"github.com/farouk15160/isotpperf/internal/isotp"
	"github.com/farouk15160/isotpperf/internal/report"
)

// DefaultIdle is the time without assembler progress after which a PDU in
// progress is dropped.
const DefaultIdle = time.Second

// Monitor owns the assembler of one sender/receiver pair. It is not safe for
// concurrent use.
type Monitor struct {
	src    cansource.Source
	filter isotp.Filter
	asm    *isotp.Assembler
	sink   report.Sink
	wd     Watchdog
	logger *log.Logger
}

// New returns a Monitor reading from src. idle <= 0 selects DefaultIdle and a
// nil logger the default logger.
func New(src cansource.Source, filter isotp.Filter, sink report.Sink, idle time.Duration, logger *log.Logger) *Monitor {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		src:    src,
		filter: filter,
		asm:    isotp.NewAssembler(logger),
		sink:   sink,
		wd:     Watchdog{Idle: idle},
		logger: logger,
	}
}

// Run reads frames until ctx is done, the source ends or a read fails. The
// end of a source and cancellation are not errors.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		f, err := m.src.ReadFrame(m.wd.Idle)
		switch {
		case err == nil:
			m.Handle(f)
		case errors.Is(err, cansource.ErrTimeout):
			m.expire()
		case errors.Is(err, io.EOF), errors.Is(err, cansource.ErrClosed):
			// a recording that ends mid-PDU looks like an idle bus
			m.expire()
			m.logger.Debug("source exhausted")
			return nil
		default:
			return err
		}
	}
}

// Handle processes a single frame.
func (m *Monitor) Handle(f canframe.Frame) {
	dir, hdr, ok := m.filter.Match(f)
	if !ok {
		return
	}
	if m.wd.Expired(f.Timestamp) {
		m.expire()
	}

	before := m.asm.State()
	ev := m.asm.Feed(isotp.NewInput(f, dir, hdr))
	switch {
	case !m.asm.InProgress():
		m.wd.Disarm()
	case advanced(before, m.asm.State()):
		// a first frame without data starts the deadline as well
		m.wd.Arm(f.Timestamp)
	}
	m.logger.Debug("frame", "dir", dir, "event", ev.Kind, "received", ev.Received, "total", ev.Total)
	report.Dispatch(m.sink, ev)
}

// advanced reports whether a PDU was started or received data.
func advanced(before, after isotp.State) bool {
	return after.Received != before.Received || after.Total != before.Total ||
		!after.Start.Equal(before.Start)
}

// expire drops the PDU in progress, if any.
func (m *Monitor) expire() {
	m.wd.Disarm()
	if !m.asm.InProgress() {
		return
	}
	st := m.asm.State()
	m.logger.Debug("transmission timed out", "received", st.Received, "total", st.Total)
	report.Dispatch(m.sink, m.asm.Abort(isotp.ReasonTimeout))
}

// State returns the assembler state.
func (m *Monitor) State() isotp.State { return m.asm.State() }
