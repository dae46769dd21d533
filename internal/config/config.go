package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/farouk15160/isotpperf/internal/canframe"
	"github.com/farouk15160/isotpperf/internal/isotp"
)

// AppName is used in the usage text and as default MQTT client id.
const AppName = "isotpperf"

// IdleTimeout is the inactivity limit for an in-progress PDU.
const IdleTimeout = 1 * time.Second

var (
	// ErrUsage reports missing or malformed arguments. Usage has been printed.
	ErrUsage = errors.New("usage error")
	// ErrHelp reports that usage was requested explicitly.
	ErrHelp = errors.New("help requested")
)

// Config holds everything the observer needs. It is not modified after Parse.
type Config struct {
	Src uint32 // sender CAN id, EFF flag set for 29 bit ids
	Dst uint32 // receiver CAN id, EFF flag set for 29 bit ids
	Tx  isotp.ExtAddr
	Rx  isotp.ExtAddr

	Interface string // CAN interface, empty when replaying
	LogFile   string // candump log to replay
	Classic   bool   // classical CAN only (brutella/can)

	Broker   string // MQTT broker URL, empty disables publishing
	Topic    string
	ClientID string

	Verbose bool
}

// Parse reads the command line (without program name). Usage is written to
// stderr on ErrUsage and ErrHelp.
func Parse(prog string, args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		src, dst, tx, rx string
		help             bool
		cfg              Config
	)
	fs.StringVar(&src, "s", "", "source can_id")
	fs.StringVar(&dst, "d", "", "destination can_id")
	fs.StringVar(&tx, "x", "", "extended addressing mode")
	fs.StringVar(&rx, "X", "", "extended addressing mode (rx addr)")
	fs.BoolVar(&help, "?", false, "print usage")
	fs.StringVar(&cfg.LogFile, "l", "", "replay candump log file")
	fs.BoolVar(&cfg.Classic, "c", false, "classical CAN only")
	fs.StringVar(&cfg.Broker, "m", "", "MQTT broker URL")
	fs.StringVar(&cfg.Topic, "t", "", "MQTT topic")
	fs.StringVar(&cfg.ClientID, "i", AppName, "MQTT client id")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose diagnostics")

	if err := fs.Parse(args); err != nil {
		PrintUsage(stderr, prog)
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if help {
		PrintUsage(stderr, prog)
		return nil, ErrHelp
	}

	usage := func(format string, a ...any) (*Config, error) {
		PrintUsage(stderr, prog)
		return nil, fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, a...))
	}

	if src == "" || dst == "" {
		return usage("source and destination can_id are required")
	}
	var err error
	if cfg.Src, err = ParseCANID(src); err != nil {
		return usage("-s: %v", err)
	}
	if cfg.Dst, err = ParseCANID(dst); err != nil {
		return usage("-d: %v", err)
	}
	if tx != "" {
		if cfg.Tx.Addr, err = ParseAddr(tx); err != nil {
			return usage("-x: %v", err)
		}
		cfg.Tx.Enabled = true
	}
	if rx != "" {
		if cfg.Rx.Addr, err = ParseAddr(rx); err != nil {
			return usage("-X: %v", err)
		}
		cfg.Rx.Enabled = true
	}

	switch {
	case fs.NArg() == 1:
		cfg.Interface = fs.Arg(0)
	case fs.NArg() == 0 && cfg.LogFile != "":
	default:
		return usage("exactly one CAN interface expected")
	}
	if cfg.LogFile != "" && cfg.Interface != "" {
		return usage("-l and a CAN interface are mutually exclusive")
	}

	if cfg.Topic == "" {
		cfg.Topic = fmt.Sprintf("%s/%s-%s", AppName, FormatCANID(cfg.Src), FormatCANID(cfg.Dst))
	}
	return &cfg, nil
}

// Filter returns the frame filter of the observed pair.
func (c *Config) Filter() isotp.Filter {
	return isotp.Filter{Src: c.Src, Dst: c.Dst, Tx: c.Tx, Rx: c.Rx}
}

// ParseCANID parses a hexadecimal CAN identifier. More than 7 characters
// select the extended frame format.
func ParseCANID(s string) (uint32, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid can_id %q", s)
	}
	id := uint32(v)
	if len(s) > 7 {
		if id > canframe.EFFMask {
			return 0, fmt.Errorf("can_id %q exceeds 29 bits", s)
		}
		return id | canframe.EFFFlag, nil
	}
	if id > canframe.SFFMask {
		return 0, fmt.Errorf("can_id %q exceeds 11 bits, use 8 digits for extended ids", s)
	}
	return id, nil
}

// FormatCANID is the inverse of ParseCANID.
func FormatCANID(id uint32) string {
	if id&canframe.EFFFlag != 0 {
		return fmt.Sprintf("%08X", id&canframe.EFFMask)
	}
	return fmt.Sprintf("%03X", id)
}

// ParseAddr parses a hexadecimal extended address, masked to 8 bits.
func ParseAddr(s string) (byte, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return byte(v & 0xFF), nil
}

func trimHex(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
