package report

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/farouk15160/isotpperf/internal/isotp"
)

const (
	percentRes = 2                // resolution in percent for the bar graph
	numBar     = 100 / percentRes // number of bar graph elements
	lineWidth  = 78
)

// Terminal renders a live progress bar per PDU and one summary line when it
// completes. Each event is flushed immediately.
type Terminal struct {
	w   *bufio.Writer
	err error
}

// NewTerminal returns a Terminal writing to w, usually os.Stdout.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: bufio.NewWriter(w)}
}

// Err returns the first write error.
func (t *Terminal) Err() error { return t.err }

// Progress overwrites the current line with the bar graph.
func (t *Terminal) Progress(received, total uint32) {
	t.progress(received, total)
	t.flush()
}

func (t *Terminal) progress(received, total uint32) {
	if total == 0 {
		return
	}
	percent := uint64(received) * 100 / uint64(total)
	fmt.Fprintf(t.w, "\r %3d%% ", percent)
	if percent > 100 {
		percent = 100
	}
	t.w.WriteByte('|')
	for i := uint64(0); i < numBar; i++ {
		if i < percent/percentRes {
			t.w.WriteByte('X')
		} else {
			t.w.WriteByte('.')
		}
	}
	fmt.Fprintf(t.w, "| %*d/%d ", digits(total), received, total)
}

// Complete finishes the bar and replaces it with the transfer summary.
func (t *Terminal) Complete(s isotp.Summary) {
	t.progress(s.Total, s.Total)

	brs := byte(' ')
	if s.BRS {
		brs = '*'
	}
	fmt.Fprintf(t.w, "\r%s %02d%c (BS:%2d # ", s.Mode, s.LLDL, brs, s.BS)
	switch {
	case !s.STmin.Valid():
		t.w.WriteString("STmin: invalid   )")
	case s.STmin.Micro():
		fmt.Fprintf(t.w, "STmin:%3d usec)", int(s.STmin.Duration()/time.Microsecond))
	default:
		fmt.Fprintf(t.w, "STmin:%3d msec)", int(s.STmin.Duration()/time.Millisecond))
	}
	fmt.Fprintf(t.w, " : %d byte in ", s.Total)

	if bps, ok := s.Throughput(); ok {
		d := s.Elapsed()
		fmt.Fprintf(t.w, "%d.%06ds ", d/time.Second, (d%time.Second)/time.Microsecond)
		fmt.Fprintf(t.w, "=> %d byte/s", bps)
	} else {
		t.w.WriteString("(no time available)     ")
	}
	t.w.WriteByte('\n')
	t.flush()
}

// Abort reports a dropped PDU.
func (t *Terminal) Abort(ev isotp.Event) {
	switch ev.Reason {
	case isotp.ReasonTimeout:
		fmt.Fprintf(t.w, "\r%-*s", lineWidth, " (transmission timed out)")
	case isotp.ReasonOversize:
		fmt.Fprintf(t.w, "fflen %d is more than ~4.2 MB - ignoring PDU\n", ev.Total)
	}
	t.flush()
}

func (t *Terminal) flush() {
	if err := t.w.Flush(); err != nil && t.err == nil {
		t.err = err
	}
}

// digits returns the number of decimal digits of v.
func digits(v uint32) int {
	n := 1
	for v > 9 {
		n++
		v /= 10
	}
	return n
}
