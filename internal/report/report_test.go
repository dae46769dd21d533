package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/farouk15160/isotpperf/internal/canframe"
	"github.com/farouk15160/isotpperf/internal/isotp"
)

func bar(x int) string {
	return "|" + strings.Repeat("X", x) + strings.Repeat(".", numBar-x) + "|"
}

func TestTerminalProgress(t *testing.T) {
	tests := []struct {
		received, total uint32
		want            string
	}{
		{13, 14, "\r  92% " + bar(46) + " 13/14 "},
		{5, 100, "\r   5% " + bar(2) + "   5/100 "},
		{0, 9, "\r   0% " + bar(0) + " 0/9 "},
		{4096, 4096, "\r 100% " + bar(50) + " 4096/4096 "},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		NewTerminal(&buf).Progress(tc.received, tc.total)
		if got := buf.String(); got != tc.want {
			t.Errorf("Progress(%d, %d) = %q, want %q", tc.received, tc.total, got, tc.want)
		}
	}
}

func TestTerminalProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf).Progress(0, 0)
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestTerminalComplete(t *testing.T) {
	start := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		s    isotp.Summary
		want string
	}{
		{
			name: "classical single frame",
			s:    isotp.Summary{Mode: canframe.Classical, LLDL: 8, Total: 7, Start: start, End: start},
			want: "\r 100% " + bar(50) + " 7/7 " +
				"\rCAN2.0 08  (BS: 0 # STmin:  0 msec) : 7 byte in (no time available)     \n",
		},
		{
			name: "fd with brs",
			s: isotp.Summary{Mode: canframe.FD, LLDL: 64, BRS: true, BS: 8, STmin: 0xF5,
				Total: 4096, Start: start, End: start.Add(10 * time.Millisecond)},
			want: "\r 100% " + bar(50) + " 4096/4096 " +
				"\rCAN-FD 64* (BS: 8 # STmin:500 usec) : 4096 byte in 0.010000s => 409600 byte/s\n",
		},
		{
			name: "invalid stmin",
			s: isotp.Summary{Mode: canframe.Classical, LLDL: 8, BS: 15, STmin: 0x80,
				Total: 20, Start: start, End: start.Add(2*time.Second + 500*time.Microsecond)},
			want: "\r 100% " + bar(50) + " 20/20 " +
				"\rCAN2.0 08  (BS:15 # STmin: invalid   ) : 20 byte in 2.000500s => 10 byte/s\n",
		},
		{
			name: "msec stmin",
			s: isotp.Summary{Mode: canframe.Classical, LLDL: 8, BS: 8, STmin: 20,
				Total: 13, Start: start, End: start.Add(10 * time.Millisecond)},
			want: "\r 100% " + bar(50) + " 13/13 " +
				"\rCAN2.0 08  (BS: 8 # STmin: 20 msec) : 13 byte in 0.010000s => 1300 byte/s\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewTerminal(&buf).Complete(tc.s)
			if got := buf.String(); got != tc.want {
				t.Errorf("got  %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestTerminalAbort(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.Abort(isotp.Event{Kind: isotp.EventAbort, Reason: isotp.ReasonTimeout, Received: 6, Total: 20})
	want := "\r (transmission timed out)" + strings.Repeat(" ", lineWidth-len(" (transmission timed out)"))
	if got := buf.String(); got != want {
		t.Errorf("timeout: got %q, want %q", got, want)
	}

	buf.Reset()
	term.Abort(isotp.Event{Kind: isotp.EventAbort, Reason: isotp.ReasonOversize, Total: 4294968})
	if got, want := buf.String(), "fflen 4294968 is more than ~4.2 MB - ignoring PDU\n"; got != want {
		t.Errorf("oversize: got %q, want %q", got, want)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestTerminalErr(t *testing.T) {
	term := NewTerminal(failWriter{})
	term.Progress(1, 2)
	if term.Err() == nil {
		t.Fatal("expected write error")
	}
}

type message struct{ topic, payload string }

type fakePublisher struct {
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(topic, payload string) error {
	p.msgs = append(p.msgs, message{topic, payload})
	return p.err
}

func TestEventPublisher(t *testing.T) {
	pub := &fakePublisher{}
	ep := NewEventPublisher(pub, "isotpperf/700-701", nil)
	start := time.Unix(1700000000, 0)

	ep.Progress(1, 2)
	if len(pub.msgs) != 0 {
		t.Fatalf("progress must not be published, got %v", pub.msgs)
	}

	ep.Complete(isotp.Summary{Mode: canframe.FD, LLDL: 64, BRS: true, STmin: 20,
		Total: 4096, Start: start, End: start.Add(10 * time.Millisecond)})
	ep.Abort(isotp.Event{Kind: isotp.EventAbort, Reason: isotp.ReasonTimeout, Received: 6, Total: 20})
	ep.Abort(isotp.Event{Kind: isotp.EventAbort, Reason: isotp.ReasonOversize, Total: 5000000})

	if len(pub.msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(pub.msgs))
	}
	for _, m := range pub.msgs {
		if m.topic != "isotpperf/700-701" {
			t.Errorf("topic = %q", m.topic)
		}
	}

	var got TransferEvent
	if err := json.Unmarshal([]byte(pub.msgs[0].payload), &got); err != nil {
		t.Fatal(err)
	}
	if got.Event != "complete" || got.Mode != "CAN-FD" || got.LLDL != 64 || !got.BRS ||
		got.STmin != "20 msec" || got.Bytes != 4096 || got.DurationUS != 10000 || got.Throughput != 409600 {
		t.Errorf("complete event = %+v", got)
	}
	if got.BS == nil || *got.BS != 0 {
		t.Errorf("bs must be present, got %v", got.BS)
	}
	if want := `{"event":"timeout","bytes":20,"received":6}`; pub.msgs[1].payload != want {
		t.Errorf("timeout payload = %s, want %s", pub.msgs[1].payload, want)
	}
	if want := `{"event":"oversize","bytes":5000000}`; pub.msgs[2].payload != want {
		t.Errorf("oversize payload = %s, want %s", pub.msgs[2].payload, want)
	}
}

func TestEventPublisher_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	ep := NewEventPublisher(pub, "t", nil)
	ep.Abort(isotp.Event{Kind: isotp.EventAbort, Reason: isotp.ReasonTimeout})
	if len(pub.msgs) != 1 {
		t.Fatalf("got %d messages", len(pub.msgs))
	}
}

type recorder struct{ calls []string }

func (r *recorder) Progress(received, total uint32) { r.calls = append(r.calls, "progress") }
func (r *recorder) Complete(isotp.Summary) { r.calls = append(r.calls, "complete") }
func (r *recorder) Abort(isotp.Event) { r.calls = append(r.calls, "abort") }

func TestDispatchAndMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	s := Multi(a, nil, b)
	for _, ev := range []isotp.Event{
		{},
		{Kind: isotp.EventProgress, Received: 6, Total: 13},
		{Kind: isotp.EventComplete},
		{Kind: isotp.EventAbort, Reason: isotp.ReasonTimeout},
	} {
		Dispatch(s, ev)
	}
	want := "progress,complete,abort"
	for _, r := range []*recorder{a, b} {
		if got := strings.Join(r.calls, ","); got != want {
			t.Errorf("calls = %s, want %s", got, want)
		}
	}
	if single := Multi(a); single != Sink(a) {
		t.Error("Multi with one sink should return it unchanged")
	}
}
