package core

import (
	"errors"
	"testing"
	"time"
)

func TestSaveAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	key, err := s.DefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := signedRating(t, key, emailID("alice@example.com"), emailID("bob@example.com"), 1000, 5)
	hash := mustSave(t, s, msg)

	got, err := s.GetMessageByHash(hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.Hash() != hash {
		t.Fatalf("hash mismatch: %s != %s", got.Hash(), hash)
	}
	if got.Type != TypeRating || got.Rating != 5 {
		t.Fatalf("payload mismatch: %+v", got)
	}
	if !got.IsLatest {
		t.Fatal("single message in its class must be IsLatest")
	}
}

func TestDuplicateIngestReturnsSameHash(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	msg := signedRating(t, key, emailID("a@x.io"), emailID("b@x.io"), 1000, 5)
	h1 := mustSave(t, s, msg)
	before, _ := s.MessageCount()
	h2 := mustSave(t, s, msg)
	after, _ := s.MessageCount()
	if h1 != h2 {
		t.Fatalf("duplicate ingest changed hash: %s != %s", h1, h2)
	}
	if before != after {
		t.Fatalf("duplicate ingest changed count: %d != %d", before, after)
	}
}

func TestSaveRejectsUnsignedMessage(t *testing.T) {
	s := newTestStore(t)
	msg := NewRating(1000, []Identifier{emailID("a@x.io")}, []Identifier{emailID("b@x.io")}, 1, "")
	if _, err := s.SaveMessage(msg); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

// Messages of the same (type, author, recipient) class arriving within the
// minimum interval replace each other instead of accumulating.
func TestMinIntervalReplacement(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice, bob := emailID("alice@example.com"), emailID("bob@example.com")

	base := time.Now().Unix()
	var last string
	for i := int64(0); i < 3; i++ {
		last = mustSave(t, s, signedRating(t, key, alice, bob, base+i, 5))
	}

	n, err := s.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("message count = %d, want 1 after interval replacement", n)
	}
	got, err := s.GetMessageByHash(last)
	if err != nil {
		t.Fatalf("surviving message gone: %v", err)
	}
	if !got.IsLatest {
		t.Fatal("surviving message must be IsLatest")
	}
}

func TestIsLatestUniqueBeyondInterval(t *testing.T) {
	s := newTestStoreCfg(t, func(c *Config) { c.MinMessageInterval = time.Second })
	key, _ := s.DefaultKey()
	alice, bob := emailID("alice@example.com"), emailID("bob@example.com")

	h1 := mustSave(t, s, signedRating(t, key, alice, bob, 1000, 5))
	h2 := mustSave(t, s, signedRating(t, key, alice, bob, 5000, 7))

	n, _ := s.MessageCount()
	if n != 2 {
		t.Fatalf("message count = %d, want 2 beyond the interval", n)
	}
	m1, _ := s.GetMessageByHash(h1)
	m2, _ := s.GetMessageByHash(h2)
	if m1.IsLatest {
		t.Fatal("older message still marked IsLatest")
	}
	if !m2.IsLatest {
		t.Fatal("newest message must be IsLatest")
	}
}

// A rating naming two recipients spans two (author, recipient) classes.
// One class may drop a within-interval prior while the other demotes a
// beyond-interval latest; both must end up with exactly one IsLatest row.
func TestMultiRecipientIsLatestPerPair(t *testing.T) {
	s := newTestStoreCfg(t, func(c *Config) { c.MinMessageInterval = 1000 * time.Second })
	key, _ := s.DefaultKey()
	alice := emailID("alice@example.com")
	r1 := emailID("r1@example.com")
	r2 := emailID("r2@example.com")

	oldR2 := mustSave(t, s, signedRating(t, key, alice, r2, 1000, 5))
	oldR1 := mustSave(t, s, signedRating(t, key, alice, r1, 10000, 5))

	both := NewRating(10500, []Identifier{alice}, []Identifier{r1, r2}, 5, "updated")
	if err := both.Sign(key); err != nil {
		t.Fatal(err)
	}
	newHash := mustSave(t, s, both)

	// (alice, r1): the prior at 10000 sits inside the interval and is dropped.
	if _, err := s.GetMessageByHash(oldR1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("within-interval prior should be dropped, got %v", err)
	}
	// (alice, r2): the prior at 1000 is beyond the interval and stays, demoted.
	kept, err := s.GetMessageByHash(oldR2)
	if err != nil {
		t.Fatalf("beyond-interval prior gone: %v", err)
	}
	if kept.IsLatest {
		t.Fatal("beyond-interval prior still marked IsLatest")
	}
	fresh, err := s.GetMessageByHash(newHash)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.IsLatest {
		t.Fatal("new message must be IsLatest for both classes")
	}

	for _, r := range []Identifier{r1, r2} {
		latest, err := s.GetMessagesByRecipient(r, MessageFilter{LatestOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(latest) != 1 || latest[0].Hash() != newHash {
			t.Fatalf("class (rating, alice, %s) has %d latest rows", r.Value, len(latest))
		}
	}
}

func TestConnectionMessagesSkipIsLatest(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	author := []Identifier{emailID("carol@example.com")}
	bob := emailID("bob@example.com")
	nick := Identifier{Predicate: "nickname", Value: "Bob"}

	h1 := mustSave(t, s, signedConnection(t, key, author, bob, nick, 1000, true))
	h2 := mustSave(t, s, signedConnection(t, key, author, bob, nick, 1001, true))

	n, _ := s.MessageCount()
	if n != 2 {
		t.Fatalf("count = %d; connection messages must not replace each other", n)
	}
	for _, h := range []string{h1, h2} {
		m, err := s.GetMessageByHash(h)
		if err != nil {
			t.Fatalf("get %s: %v", h, err)
		}
		if m.IsLatest {
			t.Fatal("connection messages never take part in IsLatest")
		}
	}
}

func TestDropMessage(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	hash := mustSave(t, s, signedRating(t, key, emailID("a@x.io"), emailID("b@x.io"), 1000, 5))

	if err := s.DropMessage(hash); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := s.GetMessageByHash(hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after drop, got %v", err)
	}
	if err := s.DropMessage(hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double drop: want ErrNotFound, got %v", err)
	}
	n, _ := s.MessageCount()
	if n != 0 {
		t.Fatalf("count = %d after drop", n)
	}
}

func TestDropPromotesPreviousMessage(t *testing.T) {
	s := newTestStoreCfg(t, func(c *Config) { c.MinMessageInterval = time.Second })
	key, _ := s.DefaultKey()
	alice, bob := emailID("alice@example.com"), emailID("bob@example.com")

	h1 := mustSave(t, s, signedRating(t, key, alice, bob, 1000, 5))
	h2 := mustSave(t, s, signedRating(t, key, alice, bob, 5000, 7))
	if err := s.DropMessage(h2); err != nil {
		t.Fatal(err)
	}
	m1, err := s.GetMessageByHash(h1)
	if err != nil {
		t.Fatal(err)
	}
	if !m1.IsLatest {
		t.Fatal("dropping the latest message must promote its predecessor")
	}
}

func TestUntrustedRefusedWhenPolicyOff(t *testing.T) {
	s := newTestStoreCfg(t, func(c *Config) { c.SaveUntrusted = false })
	stranger := testKey(t, 9)
	msg := signedRating(t, stranger, emailID("x@y.io"), emailID("z@y.io"), 1000, 5)

	hash, err := s.SaveMessage(msg)
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if hash != "" {
		t.Fatal("untrusted message must be refused with an empty hash")
	}
	n, _ := s.MessageCount()
	if n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestPublishSetsFlagAndRelays(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	hash := mustSave(t, s, signedRating(t, key, emailID("a@x.io"), emailID("b@x.io"), 1000, 5))

	relay := &captureRelay{}
	s.SetRelay(relay)
	if err := s.Publish(hash); err != nil {
		t.Fatal(err)
	}
	m, _ := s.GetMessageByHash(hash)
	if !m.Published {
		t.Fatal("published flag not set")
	}
	if len(relay.msgs) != 1 || relay.msgs[0].Hash() != hash {
		t.Fatal("relay did not receive the message")
	}
}

type captureRelay struct {
	msgs []*Message
}

func (r *captureRelay) RelayMessage(m *Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}
