package isotp

import (
	"encoding/binary"
	"time"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

// Input is one filtered frame handed to the Assembler. len(Data) is the
// link layer data length of the frame.
type Input struct {
	Time time.Time
	Dir  Direction
	Link canframe.LinkLayer
	BRS  bool
	Data []byte
	Hdr  int // offset of the PCI byte
}

// EventKind classifies the result of feeding a frame.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventProgress
	EventComplete
	EventAbort
)

// Reason tells why a PDU was abandoned.
type Reason uint8

const (
	ReasonTimeout Reason = iota + 1
	// ReasonOversize marks a first frame whose length exceeds maxPDULen.
	ReasonOversize
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonOversize:
		return "oversize"
	}
	return "unknown"
}

// Event is returned for every frame fed to the Assembler.
type Event struct {
	Kind     EventKind
	Received uint32
	Total    uint32
	Summary  Summary // EventComplete only
	Reason   Reason  // EventAbort only
}

// Summary describes a completed PDU.
type Summary struct {
	Mode  canframe.LinkLayer
	LLDL  uint8
	BRS   bool
	BS    uint8
	STmin STmin
	Total uint32
	Start time.Time
	End   time.Time
}

// Elapsed returns the transfer time with microsecond resolution. Clock steps
// backwards yield zero.
func (s Summary) Elapsed() time.Duration {
	d := s.End.Sub(s.Start).Truncate(time.Microsecond)
	if d < 0 {
		return 0
	}
	return d
}

// Throughput returns bytes per second based on the elapsed milliseconds.
// ok is false when less than a millisecond elapsed.
func (s Summary) Throughput() (uint64, bool) {
	ms := uint64(s.Elapsed().Milliseconds())
	if ms == 0 {
		return 0, false
	}
	return uint64(s.Total) * 1000 / ms, true
}

// State is a snapshot of the assembler fields.
type State struct {
	Total    uint32
	Received uint32
	LastSN   uint8
	Mode     canframe.LinkLayer
	LLDL     uint8
	BRS      bool
	BS       uint8
	STmin    STmin
	Start    time.Time
}

// Assembler follows at most one segmented transfer between the observed
// sender and receiver. It is not safe for concurrent use.
type Assembler struct {
	st     State
	logger *log.Logger
}

// NewAssembler returns an idle Assembler. A nil logger selects the default
// logger.
func NewAssembler(logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	return &Assembler{logger: logger}
}

// InProgress reports whether a PDU has been started and not yet completed.
func (a *Assembler) InProgress() bool { return a.st.Total > 0 }

// State returns a copy of the current state.
func (a *Assembler) State() State { return a.st }

// Abort drops the PDU in progress.
func (a *Assembler) Abort(reason Reason) Event {
	ev := Event{Kind: EventAbort, Reason: reason, Received: a.st.Received, Total: a.st.Total}
	a.clear()
	return ev
}

// Feed processes one frame of the observed pair.
func (a *Assembler) Feed(in Input) Event {
	if a.InProgress() && in.Link != a.st.Mode {
		// only frames of the link layer that started the PDU count
		return Event{}
	}
	if in.Hdr < 0 || in.Hdr >= len(in.Data) {
		a.logger.Debug("frame without PCI byte", "dir", in.Dir, "len", len(in.Data))
		return Event{}
	}
	pci := in.Data[in.Hdr]

	if in.Dir == Receiver {
		if pci&0xF0 == pciFlowControl {
			a.flowControl(in)
		}
		return Event{}
	}

	switch pci & 0xF0 {
	case pciSingleFrame:
		if !a.singleFrame(in) {
			return Event{}
		}
	case pciFirstFrame:
		total, ok := a.firstFrame(in)
		if !ok {
			return Event{}
		}
		if total >= maxPDULen {
			a.clear()
			return Event{Kind: EventAbort, Reason: ReasonOversize, Total: total}
		}
	case pciConsecutiveFrame:
		if !a.consecutiveFrame(in) {
			return Event{}
		}
	default:
		return Event{}
	}
	return a.result(in.Time)
}

func (a *Assembler) flowControl(in Input) {
	if in.Hdr+2 >= len(in.Data) {
		a.logger.Debug("short flow control frame", "len", len(in.Data))
		return
	}
	a.st.BS = in.Data[in.Hdr+1]
	a.st.STmin = STmin(in.Data[in.Hdr+2])
}

func (a *Assembler) singleFrame(in Input) bool {
	n := uint32(in.Data[in.Hdr] & 0x0F)
	off := in.Hdr + 1
	if n == 0 {
		// escaped length of CAN-FD single frames
		if in.Hdr+1 >= len(in.Data) {
			a.logger.Debug("single frame without escape length", "len", len(in.Data))
			return false
		}
		n = uint32(in.Data[in.Hdr+1])
		off = in.Hdr + 2
	}
	a.st.Total, a.st.Received = n, n
	if uint32(len(in.Data)) < n+uint32(off) {
		a.logger.Debug("single frame length exceeds frame", "sf_dl", n, "len", len(in.Data))
		a.clear()
		return true
	}
	a.latch(in)
	return true
}

func (a *Assembler) firstFrame(in Input) (uint32, bool) {
	if in.Hdr+1 >= len(in.Data) {
		a.logger.Debug("first frame too short", "len", len(in.Data))
		return 0, false
	}
	total := uint32(in.Data[in.Hdr]&0x0F)<<8 | uint32(in.Data[in.Hdr+1])
	off := in.Hdr + 2
	if total == 0 {
		if in.Hdr+5 >= len(in.Data) {
			a.logger.Debug("first frame without escape length", "len", len(in.Data))
			return 0, false
		}
		total = binary.BigEndian.Uint32(in.Data[in.Hdr+2 : in.Hdr+6])
		off = in.Hdr + 6
	}
	if total == 0 {
		a.logger.Debug("first frame with zero length")
		a.clear()
		return 0, false
	}
	if total >= maxPDULen {
		a.logger.Warn("first frame length too large, ignoring PDU", "ff_dl", total)
		return total, true
	}
	a.st.Total = total
	a.st.Received = uint32(len(in.Data) - off)
	a.st.LastSN = 0
	a.latch(in)
	return total, true
}

func (a *Assembler) consecutiveFrame(in Input) bool {
	if !a.InProgress() {
		return false
	}
	sn := in.Data[in.Hdr] & 0x0F
	if sn != (a.st.LastSN+1)&0x0F {
		a.logger.Debug("consecutive frame out of sequence", "sn", sn, "want", (a.st.LastSN+1)&0x0F)
		return false
	}
	a.st.LastSN = sn
	a.st.Received += uint32(len(in.Data) - (in.Hdr + 1))
	return true
}

func (a *Assembler) latch(in Input) {
	a.st.Mode = in.Link
	dl := len(in.Data)
	if in.Link == canframe.Classical && dl < canframe.MaxLen {
		dl = canframe.MaxLen
	}
	a.st.LLDL = uint8(dl)
	a.st.BRS = in.BRS
	a.st.Start = in.Time
}

func (a *Assembler) result(now time.Time) Event {
	if a.st.Received > a.st.Total {
		a.st.Received = a.st.Total
	}
	switch {
	case a.st.Total > 0 && a.st.Received >= a.st.Total:
		ev := Event{
			Kind:     EventComplete,
			Received: a.st.Total,
			Total:    a.st.Total,
			Summary: Summary{
				Mode:  a.st.Mode,
				LLDL:  a.st.LLDL,
				BRS:   a.st.BRS,
				BS:    a.st.BS,
				STmin: a.st.STmin,
				Total: a.st.Total,
				Start: a.st.Start,
				End:   now,
			},
		}
		a.clear()
		return ev
	case a.st.Received > 0:
		return Event{Kind: EventProgress, Received: a.st.Received, Total: a.st.Total}
	}
	return Event{}
}

func (a *Assembler) clear() {
	a.st.Total = 0
	a.st.Received = 0
}
