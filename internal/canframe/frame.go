package canframe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identifier flags and masks as used by SocketCAN (linux/can.h).
const (
	EFFFlag = 0x80000000 // extended frame format
	RTRFlag = 0x40000000 // remote transmission request
	ERRFlag = 0x20000000 // error message frame
	SFFMask = 0x000007FF
	EFFMask = 0x1FFFFFFF
)

// Payload limits.
const (
	MaxLen   = 8
	MaxFDLen = 64
)

var (
	ErrInvalidID  = errors.New("canframe: invalid identifier")
	ErrInvalidLen = errors.New("canframe: invalid data length")
)

// LinkLayer tells classical CAN and CAN-FD frames apart.
type LinkLayer uint8

const (
	Classical LinkLayer = iota
	FD
)

func (l LinkLayer) String() string {
	if l == FD {
		return "CAN-FD"
	}
	return "CAN2.0"
}

// Frame represents a timestamped classical CAN or CAN-FD frame.
type Frame struct {
	Timestamp time.Time
	// bit 0-28: CAN identifier (11/29 bit)
	// bit 31: extended frame format (EFF)
	ID   uint32
	Len  uint8
	Data [MaxFDLen]byte
	FD   bool
	BRS  bool // bit rate switch, FD only
}

// IsExtended reports whether the identifier is in 29-bit format.
func (f Frame) IsExtended() bool { return f.ID&EFFFlag != 0 }

// RawID returns the identifier without flags.
func (f Frame) RawID() uint32 {
	if f.IsExtended() {
		return f.ID & EFFMask
	}
	return f.ID & SFFMask
}

// Payload returns the valid data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxFDLen {
		n = MaxFDLen
	}
	return f.Data[:n]
}

// LinkLayer returns the link layer the frame was received on.
func (f Frame) LinkLayer() LinkLayer {
	if f.FD {
		return FD
	}
	return Classical
}

// Validate returns an error if identifier or length are out of range.
func (f Frame) Validate() error {
	if f.FD {
		if !ValidFDLen(int(f.Len)) {
			return ErrInvalidLen
		}
	} else if f.Len > MaxLen {
		return ErrInvalidLen
	}
	if f.IsExtended() {
		if f.ID&^EFFFlag > EFFMask {
			return ErrInvalidID
		}
	} else if f.ID > SFFMask {
		return ErrInvalidID
	}
	return nil
}

// ValidFDLen reports whether n is one of the CAN-FD data lengths.
func ValidFDLen(n int) bool {
	switch {
	case n >= 0 && n <= 8:
		return true
	case n == 12, n == 16, n == 20, n == 24, n == 32, n == 48, n == 64:
		return true
	}
	return false
}

// String renders the frame in compact ASCII format, e.g. 123#1122 or
// 12345678##1AABB for an FD frame with BRS set.
func (f Frame) String() string {
	var b strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&b, "%08X", f.RawID())
	} else {
		fmt.Fprintf(&b, "%03X", f.RawID())
	}
	b.WriteByte('#')
	if f.FD {
		var flags byte
		if f.BRS {
			flags |= fdFlagBRS
		}
		fmt.Fprintf(&b, "#%X", flags)
	}
	fmt.Fprintf(&b, "%X", f.Payload())
	return b.String()
}
