package cansource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

// Replay reads a candump log and hands out its frames on a virtual clock
// driven by the logged timestamps, so idle gaps in the recording produce the
// same timeouts as on a live bus.
type Replay struct {
	sc     *bufio.Scanner
	line   int
	ids    idSet
	now    time.Time
	next   *canframe.Frame
	err    error
	closer io.Closer
	logger *log.Logger
}

// NewReplay returns a replay of r. Only frames with one of the given
// identifiers are delivered. If r is an io.Closer, Close closes it.
func NewReplay(r io.Reader, logger *log.Logger, ids ...uint32) *Replay {
	if logger == nil {
		logger = log.Default()
	}
	rp := &Replay{sc: bufio.NewScanner(r), ids: ids, logger: logger}
	if c, ok := r.(io.Closer); ok {
		rp.closer = c
	}
	return rp
}

// ReadFrame returns the next logged frame. If the logged gap to that frame is
// longer than timeout, ErrTimeout is returned once and the virtual clock moves
// to the frame, which the following call delivers. io.EOF marks the end of the
// log.
func (r *Replay) ReadFrame(timeout time.Duration) (canframe.Frame, error) {
	if r.next == nil && r.err == nil {
		r.next, r.err = r.scan()
	}
	if r.next == nil {
		return canframe.Frame{}, r.err
	}
	f := *r.next
	if !r.now.IsZero() && f.Timestamp.Sub(r.now) > timeout {
		r.now = f.Timestamp
		return canframe.Frame{}, ErrTimeout
	}
	if f.Timestamp.After(r.now) || r.now.IsZero() {
		r.now = f.Timestamp
	}
	r.next = nil
	return f, nil
}

func (r *Replay) scan() (*canframe.Frame, error) {
	for r.sc.Scan() {
		r.line++
		line := strings.TrimSpace(r.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, iface, err := canframe.ParseLogLine(line)
		if errors.Is(err, canframe.ErrUnsupported) {
			r.logger.Debug("skipping frame", "line", r.line, "iface", iface, "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		if !r.ids.contains(f.ID) {
			continue
		}
		return &f, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Close closes the underlying reader if it is an io.Closer.
func (r *Replay) Close() error {
	r.next, r.err = nil, ErrClosed
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
