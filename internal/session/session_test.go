package session

import (
	"testing"
	"time"
)

func TestSenderManagerAllocatesMonotoneUniqueIDs(t *testing.T) {
	m := NewManager()
	a := m.New()
	b := m.New()
	if a.ID == 0 || b.ID == 0 {
		t.Fatalf("session ids must be nonzero: a=%d b=%d", a.ID, b.ID)
	}
	if b.ID <= a.ID {
		t.Fatalf("session ids must be monotone increasing: a=%d b=%d", a.ID, b.ID)
	}
}

func TestSenderStateMachineTransitions(t *testing.T) {
	m := NewManager()
	s := m.New()
	if s.State() != StateAccepting {
		t.Fatalf("new session should start accepting, got %v", s.State())
	}

	s.Accept()
	if s.State() != StateOpen {
		t.Fatalf("Accept should move to open, got %v", s.State())
	}

	s.Activity()
	if s.State() != StateOpen {
		t.Fatalf("ordinary activity should not change state, got %v", s.State())
	}

	s.EndOfStream()
	if s.State() != StateDraining {
		t.Fatalf("EndOfStream should move to draining, got %v", s.State())
	}

	s.Closed()
	if s.State() != StateClosed {
		t.Fatalf("Closed should move to closed, got %v", s.State())
	}
}

func TestSenderManagerRemove(t *testing.T) {
	m := NewManager()
	s := m.New()
	if m.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Count())
	}
	m.Remove(s.ID)
	if m.Count() != 0 {
		t.Fatalf("expected 0 sessions after remove, got %d", m.Count())
	}
}

func TestReceiverLifecycleHappyPath(t *testing.T) {
	m := NewManager()
	r, created := m.GetOrCreate(7)
	if !created {
		t.Fatalf("expected GetOrCreate to create a new session")
	}
	if r.State() != StateUnknown {
		t.Fatalf("new receiver session should start unknown, got %v", r.State())
	}

	r.OnSessionOpen()
	if r.State() != StateRecvOpen {
		t.Fatalf("expected open after session-open marker, got %v", r.State())
	}

	r.OnBlockDelivered(1)
	if r.State() != StateDelivering || r.NextExpected() != 2 {
		t.Fatalf("expected delivering/next=2, got state=%v next=%d", r.State(), r.NextExpected())
	}

	r.OnSessionClose()
	if r.State() != StateRecvClosed {
		t.Fatalf("expected closed after session-close marker, got %v", r.State())
	}
	if !r.Terminal() {
		t.Fatalf("closed session should report terminal")
	}
}

func TestReceiverGapBreaksSession(t *testing.T) {
	m := NewManager()
	r, _ := m.GetOrCreate(1)
	r.OnSessionOpen()
	r.OnBlockDelivered(1)
	r.OnGap()
	if r.State() != StateBroken {
		t.Fatalf("expected broken after gap, got %v", r.State())
	}
	// A gap is terminal: further deliveries must not resurrect the session.
	r.OnBlockDelivered(5)
	if r.State() != StateBroken {
		t.Fatalf("broken session must not leave broken state, got %v", r.State())
	}
}

func TestReceiverGetOrCreateReturnsExisting(t *testing.T) {
	m := NewManager()
	first, created := m.GetOrCreate(3)
	if !created {
		t.Fatalf("expected first call to create")
	}
	second, created := m.GetOrCreate(3)
	if created {
		t.Fatalf("expected second call to reuse existing session")
	}
	if first != second {
		t.Fatalf("expected same *Receiver instance")
	}
}

func TestExpiredZeroDelayExpiresImmediately(t *testing.T) {
	m := NewManager()
	r, _ := m.GetOrCreate(9)
	r.OnSessionOpen()

	ids := m.Expired(time.Now(), 0)
	if len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("expected session 9 to expire immediately with delay=0, got %v", ids)
	}
}

func TestExpiredSkipsTerminalSessions(t *testing.T) {
	m := NewManager()
	r, _ := m.GetOrCreate(4)
	r.OnSessionOpen()
	r.OnSessionClose()

	ids := m.Expired(time.Now(), 0)
	if len(ids) != 0 {
		t.Fatalf("closed sessions should never be reported as expired, got %v", ids)
	}
}

func TestOnExpireDistinguishesBrokenFromClosed(t *testing.T) {
	m := NewManager()
	clean, _ := m.GetOrCreate(1)
	clean.OnSessionOpen()
	clean.OnExpire(false)
	if clean.State() != StateRecvClosed {
		t.Fatalf("idle expiry with no pending data should close cleanly, got %v", clean.State())
	}

	dirty, _ := m.GetOrCreate(2)
	dirty.OnSessionOpen()
	dirty.OnExpire(true)
	if dirty.State() != StateBroken {
		t.Fatalf("idle expiry with pending data should break the session, got %v", dirty.State())
	}
}
