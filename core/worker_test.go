package core

import (
	"errors"
	"testing"
	"time"
)

func TestTrustMapQueueIdempotent(t *testing.T) {
	s := newTestStore(t)
	id := emailID("alice@example.com")
	before := s.TrustMapQueueLen()
	s.AddToTrustMapQueue(id, 4)
	s.AddToTrustMapQueue(id, 4)
	if got := s.TrustMapQueueLen(); got != before+1 {
		t.Fatalf("queue len = %d, want %d", got, before+1)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	s := newTestStore(t)
	alice, _, carl, _ := seedRatingChain(t, s)

	s.AddToTrustMapQueue(alice, 4)
	waitFor(t, 10*time.Second, func() bool {
		d, err := s.TrustDistance(alice, carl)
		return err == nil && d == 2
	})
	waitFor(t, 10*time.Second, func() bool {
		return s.TrustMapQueueLen() == 0
	})
}

func TestOperationsAfterClose(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	s, err := Open(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	key := testKey(t, 40)
	msg := signedRating(t, key, emailID("a@x.io"), emailID("b@x.io"), 1000, 1)
	if _, err := s.SaveMessage(msg); !errors.Is(err, ErrShutdown) {
		t.Fatalf("want ErrShutdown, got %v", err)
	}
	if _, err := s.MessageCount(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("want ErrShutdown, got %v", err)
	}
}
