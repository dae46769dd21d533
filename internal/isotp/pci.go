package isotp

import (
	"fmt"
	"time"
)

// PCI frame types, upper nibble of the first protocol byte.
const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30
)

// maxPDULen bounds the FF_DL so that length*1000 fits into 32 bits for the
// throughput calculation.
const maxPDULen = 0xFFFFFFFF / 1000

// STmin is the raw separation time byte of a flow control frame.
type STmin uint8

// Valid reports whether the value is a defined millisecond or microsecond
// encoding.
func (s STmin) Valid() bool {
	return s < 0x80 || s.Micro()
}

// Micro reports whether the value is in the 100-900 usec range.
func (s STmin) Micro() bool {
	return s >= 0xF1 && s <= 0xF9
}

// Duration returns the decoded separation time, 0 for reserved values.
func (s STmin) Duration() time.Duration {
	switch {
	case s < 0x80:
		return time.Duration(s) * time.Millisecond
	case s.Micro():
		return time.Duration(s&0x0F) * 100 * time.Microsecond
	}
	return 0
}

func (s STmin) String() string {
	switch {
	case s < 0x80:
		return fmt.Sprintf("%d msec", uint8(s))
	case s.Micro():
		return fmt.Sprintf("%d usec", int(s&0x0F)*100)
	}
	return "invalid"
}
