package report

import (
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/isotp"
)

// Publisher sends a payload to a message broker topic.
type Publisher interface {
	Publish(topic, payload string) error
}

// TransferEvent is the JSON document published for every finished or dropped
// PDU.
type TransferEvent struct {
	Event      string `json:"event"`
	Mode       string `json:"mode,omitempty"`
	LLDL       uint8  `json:"ll_dl,omitempty"`
	BRS        bool   `json:"brs,omitempty"`
	BS         *uint8 `json:"bs,omitempty"`
	STmin      string `json:"stmin,omitempty"`
	Bytes      uint32 `json:"bytes,omitempty"`
	Received   uint32 `json:"received,omitempty"`
	DurationUS int64  `json:"duration_us,omitempty"`
	Throughput uint64 `json:"throughput,omitempty"` // byte/s
}

// EventPublisher is a Sink that forwards completed and aborted transfers to a
// Publisher as JSON. Progress is not published.
type EventPublisher struct {
	pub    Publisher
	topic  string
	logger *log.Logger
}

// NewEventPublisher returns an EventPublisher for topic. A nil logger selects
// the default logger.
func NewEventPublisher(pub Publisher, topic string, logger *log.Logger) *EventPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &EventPublisher{pub: pub, topic: topic, logger: logger}
}

func (p *EventPublisher) Progress(received, total uint32) {}

func (p *EventPublisher) Complete(s isotp.Summary) {
	bs := s.BS
	ev := TransferEvent{
		Event:      "complete",
		Mode:       s.Mode.String(),
		LLDL:       s.LLDL,
		BRS:        s.BRS,
		BS:         &bs,
		STmin:      s.STmin.String(),
		Bytes:      s.Total,
		DurationUS: s.Elapsed().Microseconds(),
	}
	if bps, ok := s.Throughput(); ok {
		ev.Throughput = bps
	}
	p.send(ev)
}

func (p *EventPublisher) Abort(ev isotp.Event) {
	switch ev.Reason {
	case isotp.ReasonTimeout:
		p.send(TransferEvent{Event: "timeout", Bytes: ev.Total, Received: ev.Received})
	case isotp.ReasonOversize:
		p.send(TransferEvent{Event: "oversize", Bytes: ev.Total})
	}
}

func (p *EventPublisher) send(ev TransferEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode transfer event", "err", err)
		return
	}
	if err := p.pub.Publish(p.topic, string(b)); err != nil {
		p.logger.Warn("publish transfer event", "topic", p.topic, "err", err)
	}
}
