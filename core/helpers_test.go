package core

import (
	"io"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	s, err := Open(cfg, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStoreCfg(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	mutate(&cfg)
	s, err := Open(cfg, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testKey derives a reproducible keypair from a seed byte.
func testKey(t *testing.T, seed byte) *Key {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed ^ byte(i*7+1)
	}
	key, err := keyFromSecret(base58.Encode(raw))
	if err != nil {
		t.Fatalf("test key: %v", err)
	}
	return key
}

func emailID(addr string) Identifier {
	return Identifier{Predicate: "email", Value: addr}
}

// signedRating builds and signs a rating between two identifiers.
func signedRating(t *testing.T, key *Key, author, recipient Identifier, ts int64, rating int) *Message {
	t.Helper()
	msg := NewRating(ts, []Identifier{author}, []Identifier{recipient}, rating, "test rating")
	if err := msg.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return msg
}

// signedConnection builds and signs a connection message.
func signedConnection(t *testing.T, key *Key, author []Identifier, id1, id2 Identifier, ts int64, confirm bool) *Message {
	t.Helper()
	msg := NewConnection(ts, author, id1, id2, confirm)
	if err := msg.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return msg
}

func mustSave(t *testing.T, s *Store, msg *Message) string {
	t.Helper()
	hash, err := s.SaveMessage(msg)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	if hash == "" {
		t.Fatal("save message refused")
	}
	return hash
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
