package isotp

import "github.com/farouk15160/isotpperf/internal/canframe"

// Direction of an observed frame relative to the transfer.
type Direction uint8

const (
	// Sender frames carry SF, FF and CF.
	Sender Direction = iota
	// Receiver frames carry FC.
	Receiver
)

func (d Direction) String() string {
	if d == Receiver {
		return "receiver"
	}
	return "sender"
}

// ExtAddr is an optional extended addressing byte in front of the PCI.
type ExtAddr struct {
	Enabled bool
	Addr    byte
}

// Offset returns the position of the PCI byte.
func (e ExtAddr) Offset() int {
	if e.Enabled {
		return 1
	}
	return 0
}

// Filter selects the frames of one sender/receiver pair. Src and Dst carry
// canframe.EFFFlag for 29 bit identifiers.
type Filter struct {
	Src uint32
	Dst uint32
	Tx  ExtAddr // checked on Src frames
	Rx  ExtAddr // checked on Dst frames
}

// Match reports whether f belongs to the observed pair and returns its
// direction and PCI offset.
func (flt Filter) Match(f canframe.Frame) (Direction, int, bool) {
	switch f.ID {
	case flt.Src:
		if !flt.Tx.matches(f) {
			return Sender, 0, false
		}
		return Sender, flt.Tx.Offset(), true
	case flt.Dst:
		if !flt.Rx.matches(f) {
			return Receiver, 0, false
		}
		return Receiver, flt.Rx.Offset(), true
	}
	return Sender, 0, false
}

func (e ExtAddr) matches(f canframe.Frame) bool {
	if !e.Enabled {
		return true
	}
	return f.Len > 0 && f.Data[0] == e.Addr
}

// NewInput builds the assembler input for a frame accepted by Match.
func NewInput(f canframe.Frame, dir Direction, hdr int) Input {
	return Input{
		Time: f.Timestamp,
		Dir:  dir,
		Link: f.LinkLayer(),
		BRS:  f.BRS,
		Data: f.Payload(),
		Hdr:  hdr,
	}
}
