package canframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fdFlagBRS is the bit rate switch bit in the flags nibble of the
// <id>##<flags><data> notation. The other flags are accepted and ignored.
const fdFlagBRS = 0x01

var (
	ErrSyntax = errors.New("canframe: syntax error")
	// ErrUnsupported is returned for remote and error frames which carry no
	// transport layer data.
	ErrUnsupported = errors.New("canframe: unsupported frame type")
)

// ParseFrame decodes the compact ASCII representation used by cansend and
// candump log files:
//
//	123#1122334455667788       standard id, classical CAN
//	12345678#11.22.33          extended id, optional '.' separators
//	123##1112233               CAN-FD, flags nibble 1 (BRS) followed by data
func ParseFrame(s string) (Frame, error) {
	var f Frame

	var idx int
	switch {
	case len(s) >= 4 && s[3] == '#':
		idx = 3
	case len(s) >= 9 && s[8] == '#':
		idx = 8
	default:
		return f, fmt.Errorf("%w: missing identifier delimiter in %q", ErrSyntax, s)
	}
	id, err := strconv.ParseUint(s[:idx], 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: identifier %q", ErrSyntax, s[:idx])
	}
	if idx == 8 {
		if id&ERRFlag != 0 {
			return f, fmt.Errorf("%w: error frame %q", ErrUnsupported, s)
		}
		id |= EFFFlag
	}
	f.ID = uint32(id)

	rest := s[idx+1:]
	if len(rest) > 0 && (rest[0] == 'R' || rest[0] == 'r') {
		return f, fmt.Errorf("%w: remote frame %q", ErrUnsupported, s)
	}

	maxLen := MaxLen
	if len(rest) > 0 && rest[0] == '#' {
		if len(rest) < 2 {
			return f, fmt.Errorf("%w: missing FD flags in %q", ErrSyntax, s)
		}
		flags, ok := nibble(rest[1])
		if !ok {
			return f, fmt.Errorf("%w: FD flags %q", ErrSyntax, rest[1])
		}
		f.FD = true
		f.BRS = flags&fdFlagBRS != 0
		maxLen = MaxFDLen
		rest = rest[2:]
	}

	n := 0
	for i := 0; i < len(rest); {
		if rest[i] == '.' {
			i++
			continue
		}
		if rest[i] == '_' {
			// raw DLC suffix of classical 8 byte frames
			break
		}
		if i+1 >= len(rest) {
			return f, fmt.Errorf("%w: odd number of data digits in %q", ErrSyntax, s)
		}
		if n >= maxLen {
			return f, fmt.Errorf("%w: too many data bytes in %q", ErrInvalidLen, s)
		}
		hi, ok1 := nibble(rest[i])
		lo, ok2 := nibble(rest[i+1])
		if !ok1 || !ok2 {
			return f, fmt.Errorf("%w: data %q", ErrSyntax, rest[i:i+2])
		}
		f.Data[n] = hi<<4 | lo
		n++
		i += 2
	}
	f.Len = uint8(n)

	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("%q: %w", s, err)
	}
	return f, nil
}

// ParseLogLine decodes one candump log line
//
//	(1436509052.249713) vcan0 700#0722334455667788
//
// and returns the timestamped frame together with the interface name.
func ParseLogLine(line string) (Frame, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Frame{}, "", fmt.Errorf("%w: short log line %q", ErrSyntax, line)
	}
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return Frame{}, "", err
	}
	f, err := ParseFrame(fields[2])
	if err != nil {
		return Frame{}, fields[1], err
	}
	f.Timestamp = ts
	return f, fields[1], nil
}

// FormatLogLine is the inverse of ParseLogLine.
func FormatLogLine(f Frame, iface string) string {
	return fmt.Sprintf("(%d.%06d) %s %s", f.Timestamp.Unix(), f.Timestamp.Nanosecond()/1000, iface, f.String())
}

func parseTimestamp(s string) (time.Time, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrSyntax, s)
	}
	secStr, fracStr, _ := strings.Cut(s[1:len(s)-1], ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrSyntax, s)
	}
	// normalise the fraction to microseconds
	for len(fracStr) < 6 {
		fracStr += "0"
	}
	usec, err := strconv.ParseInt(fracStr[:6], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrSyntax, s)
	}
	return time.Unix(sec, usec*int64(time.Microsecond)), nil
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
