package chat

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andy6609/prattle/internal/netconn"
	"github.com/andy6609/prattle/internal/protocol"
)

func TestSession_LoginThenQuit(t *testing.T) {
	r := NewRegistry(nil, nil)
	fc := &fakeConn{}
	s := NewSession(fc, r, SessionOptions{})
	r.Add(s)

	cancelled := 0
	s.SetCancel(func() { cancelled++ })

	if s.State() != StateConnected {
		t.Fatalf("initial state = %s", s.State())
	}

	fc.push(protocol.MakeLogin("alice"))
	s.Tick()
	if s.State() != StateInitialized || s.Name() != "alice" {
		t.Fatalf("after login: state=%s name=%q", s.State(), s.Name())
	}

	fc.push(protocol.MakeQuit("alice"))
	s.Tick()
	if s.State() != StateTerminated {
		t.Fatalf("after quit: state=%s", s.State())
	}
	if r.Len() != 0 {
		t.Fatalf("terminated session still registered")
	}
	if fc.closeCount() != 1 || cancelled != 1 {
		t.Fatalf("close=%d cancel=%d, want 1 and 1", fc.closeCount(), cancelled)
	}

	// Terminated is absorbing.
	fc.push(protocol.MakeLogin("again"))
	s.Tick()
	s.Terminate(reasonQuit, nil)
	if s.State() != StateTerminated || fc.closeCount() != 1 || cancelled != 1 {
		t.Fatalf("terminated session reacted to further input")
	}
}

func TestSession_HelloUsesTextAsName(t *testing.T) {
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{})
	fc.push(protocol.MakeHello("Hi there!"))
	s.Tick()
	if s.Name() != "Hi there!" {
		t.Fatalf("name = %q", s.Name())
	}
}

func TestSession_RepeatedLoginKeepsFirstName(t *testing.T) {
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{})
	fc.push(protocol.MakeLogin("alice"), protocol.MakeLogin("mallory"))
	s.Tick()
	if s.Name() != "alice" {
		t.Fatalf("name = %q", s.Name())
	}
}

func TestSession_BroadcastEchoesToSender(t *testing.T) {
	r := NewRegistry(nil, nil)
	alice, aliceConn := newTestSession(t, r, "alice")
	bob, bobConn := newTestSession(t, r, "bob")

	m := protocol.MakeBroadcast(protocol.Value("alice"), protocol.Value("hi"))
	aliceConn.push(m)
	alice.Tick()
	bob.Tick()

	for name, fc := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		sent := fc.sentMessages()
		if len(sent) != 1 || sent[0] != m {
			t.Fatalf("%s received %v, want [%q]", name, sent, m)
		}
	}
}

func TestSession_BroadcastBeforeLoginDropped(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, watcherConn := newTestSession(t, r, "watcher")
	fc := &fakeConn{}
	s := NewSession(fc, r, SessionOptions{})
	r.Add(s)

	fc.push(protocol.MakeBroadcast(protocol.Absent, protocol.Value("sneaky")))
	s.Tick()
	if s.State() != StateConnected {
		t.Fatalf("state = %s", s.State())
	}
	for _, sess := range r.Snapshot() {
		if sess.Pending() != 0 {
			t.Fatalf("broadcast from an unauthenticated session was delivered")
		}
	}
	if len(watcherConn.sentMessages()) != 0 {
		t.Fatal("watcher received a message")
	}
}

func TestSession_QueuedBeforeLoginIsFlushedAfter(t *testing.T) {
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{})
	early := protocol.MakeBroadcast(protocol.Value("srv"), protocol.Value("early"))

	s.Enqueue(early)
	s.Tick()
	if len(fc.sentMessages()) != 0 {
		t.Fatal("message flushed before login")
	}

	fc.push(protocol.MakeLogin("late"))
	s.Tick()
	sent := fc.sentMessages()
	if len(sent) != 1 || sent[0] != early {
		t.Fatalf("sent = %v", sent)
	}
}

func TestSession_SendFailureTerminates(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewRegistry(nil, metrics)
	fc := &fakeConn{sendErr: netconn.ErrSendBudgetExhausted}
	s := NewSession(fc, r, SessionOptions{Metrics: metrics})
	r.Add(s)

	fc.push(protocol.MakeLogin("slow"))
	s.Enqueue(protocol.MakeBroadcast(protocol.Absent, protocol.Value("x")))
	s.Tick()

	if s.State() != StateTerminated {
		t.Fatalf("state = %s", s.State())
	}
	if r.Len() != 0 || fc.closeCount() != 1 {
		t.Fatalf("registry=%d close=%d", r.Len(), fc.closeCount())
	}
	if v := metricByName(t, reg, "chat_send_failures_total"); v != 1 {
		t.Fatalf("send failures = %v", v)
	}
}

func TestSession_ConnectionFaultTerminates(t *testing.T) {
	r := NewRegistry(nil, nil)
	fc := &fakeConn{}
	s := NewSession(fc, r, SessionOptions{})
	r.Add(s)

	fc.push(protocol.MakeLogin("alice"))
	fc.fault = protocol.ErrMalformed
	s.Tick()

	// The login decoded before the fault still counts.
	if s.Name() != "alice" {
		t.Fatalf("name = %q", s.Name())
	}
	if s.State() != StateTerminated || r.Len() != 0 {
		t.Fatalf("state=%s registry=%d", s.State(), r.Len())
	}
}

func TestSession_PanicInTickTerminates(t *testing.T) {
	r := NewRegistry(nil, nil)
	fc := &fakeConn{pollHook: func() { panic(errors.New("boom")) }}
	s := NewSession(fc, r, SessionOptions{})
	r.Add(s)

	s.Tick()
	if s.State() != StateTerminated || r.Len() != 0 {
		t.Fatalf("state=%s registry=%d", s.State(), r.Len())
	}
}

func TestSession_TickHandlesBoundedBatch(t *testing.T) {
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{MaxMessagesPerTick: 2})
	fc.push(protocol.MakeLogin("a"), wireMessage(t, "PNG"), protocol.MakeQuit("a"))

	s.Tick()
	if s.State() != StateInitialized {
		t.Fatalf("state after first tick = %s", s.State())
	}
	s.Tick()
	if s.State() != StateTerminated {
		t.Fatalf("state after second tick = %s", s.State())
	}
}

func wireMessage(t *testing.T, code string) protocol.Message {
	t.Helper()
	m, err := protocol.MakeFromWire(code, protocol.Absent, protocol.Absent)
	if err != nil {
		t.Fatalf("MakeFromWire(%q): %v", code, err)
	}
	return m
}

func TestSession_UnknownKindsShareOneMetricSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{
		Metrics:            NewMetrics(reg),
		MaxMessagesPerTick: 2000,
	})

	const n = 1000
	for i := 0; i < n; i++ {
		code := string([]byte{byte('a' + i/676), byte('a' + i/26%26), byte('a' + i%26)})
		fc.push(wireMessage(t, code))
	}
	s.Tick()
	if fc.pending() != 0 {
		t.Fatalf("%d messages left unread", fc.pending())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "chat_messages_total" {
			continue
		}
		series := mf.GetMetric()
		if len(series) != 1 {
			t.Fatalf("chat_messages_total has %d series, want 1", len(series))
		}
		if got := metricValue(series[0]); got != n {
			t.Fatalf("unknown count = %v, want %d", got, n)
		}
		if l := series[0].GetLabel(); len(l) != 1 || l[0].GetValue() != "unknown" {
			t.Fatalf("labels = %v", l)
		}
		return
	}
	t.Fatal("chat_messages_total not gathered")
}

func TestSession_LoginWithoutNameIgnored(t *testing.T) {
	fc := &fakeConn{}
	s := NewSession(fc, NewRegistry(nil, nil), SessionOptions{})

	fc.push(wireMessage(t, "HLO"))
	s.Tick()
	if s.State() != StateConnected || s.Name() != "" {
		t.Fatalf("nameless login: state=%s name=%q", s.State(), s.Name())
	}

	fc.push(protocol.MakeLogin("later"))
	s.Tick()
	if s.State() != StateInitialized || s.Name() != "later" {
		t.Fatalf("after real login: state=%s name=%q", s.State(), s.Name())
	}
}
