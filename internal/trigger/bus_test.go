package trigger

import (
	"testing"

	"go.uber.org/zap"
)

func TestPublishReachesPartySubscribers(t *testing.T) {
	bus := New(zap.NewNop())

	a := bus.Subscribe("p1")
	b := bus.Subscribe("p1")
	other := bus.Subscribe("p2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	if n := bus.Publish("p1", 42); n != 2 {
		t.Errorf("expected 2 subscribers signalled, got %d", n)
	}

	for _, s := range []*Subscriber{a, b} {
		select {
		case sig := <-s.C():
			if sig.PartyID != "p1" || sig.EventID != 42 {
				t.Errorf("unexpected signal %+v", sig)
			}
		default:
			t.Error("expected a pending signal")
		}
	}

	select {
	case sig := <-other.C():
		t.Errorf("subscriber of another party got %+v", sig)
	default:
	}
}

func TestPublishCoalesces(t *testing.T) {
	bus := New(zap.NewNop())
	s := bus.Subscribe("p1")
	defer s.Close()

	bus.Publish("p1", 1)
	bus.Publish("p1", 2)
	bus.Publish("p1", 3)

	<-s.C()
	select {
	case sig := <-s.C():
		t.Errorf("expected signals coalesced, got extra %+v", sig)
	default:
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	bus := New(zap.NewNop())
	s := bus.Subscribe("p1")

	s.Close()
	s.Close()

	if _, ok := <-s.C(); ok {
		t.Error("expected channel closed")
	}
	if n := bus.Publish("p1", 1); n != 0 {
		t.Errorf("expected no subscribers after close, got %d", n)
	}
	if len(bus.ActiveParties()) != 0 {
		t.Errorf("expected empty party list, got %v", bus.ActiveParties())
	}
}
