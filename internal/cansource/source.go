// Package cansource delivers timestamped CAN frames from a live interface or
// a recorded candump log.
package cansource

import (
	"errors"
	"time"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

var (
	// ErrTimeout is returned by ReadFrame when no frame arrived in time.
	ErrTimeout = errors.New("cansource: read timeout")
	// ErrClosed is returned by ReadFrame after Close.
	ErrClosed = errors.New("cansource: source closed")
)

// Source is a frame receiver. ReadFrame blocks for at most timeout.
type Source interface {
	ReadFrame(timeout time.Duration) (canframe.Frame, error)
	Close() error
}

// idSet matches frames against exact identifiers. Flags take part in the
// comparison, so remote and error frames never match.
type idSet []uint32

func (s idSet) contains(id uint32) bool {
	if len(s) == 0 {
		return true
	}
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}
