package core

import (
	"testing"
)

func TestUntrustedMessagePriorityZero(t *testing.T) {
	s := newTestStore(t)
	stranger := testKey(t, 20)
	authorID := Identifier{Predicate: "keyID", Value: stranger.KeyID}
	msg := NewRating(1000, []Identifier{authorID}, []Identifier{emailID("b@x.io")}, 5, "")
	if err := msg.Sign(stranger); err != nil {
		t.Fatal(err)
	}
	hash := mustSave(t, s, msg)

	got, _ := s.GetMessageByHash(hash)
	if got.Priority != 0 {
		t.Fatalf("stranger message priority = %d, want 0", got.Priority)
	}
}

func TestOwnMessagePriorityIsMax(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	authorID := Identifier{Predicate: "keyID", Value: key.KeyID}
	msg := NewRating(1000, []Identifier{authorID}, []Identifier{emailID("b@x.io")}, 5, "")
	if err := msg.Sign(key); err != nil {
		t.Fatal(err)
	}
	hash := mustSave(t, s, msg)

	got, _ := s.GetMessageByHash(hash)
	if got.Priority != maxPriority {
		t.Fatalf("own message priority = %d, want %d", got.Priority, maxPriority)
	}
}

// Rating a previously unknown key promotes the priority of everything it
// has authored and everything it authors afterwards.
func TestPriorityPromotion(t *testing.T) {
	s := newTestStore(t)
	strangerKey := testKey(t, 21)
	strangerID := Identifier{Predicate: "keyID", Value: strangerKey.KeyID}

	m1 := NewRating(1000, []Identifier{strangerID}, []Identifier{emailID("b@x.io")}, 5, "")
	if err := m1.Sign(strangerKey); err != nil {
		t.Fatal(err)
	}
	h1 := mustSave(t, s, m1)
	if got, _ := s.GetMessageByHash(h1); got.Priority != 0 {
		t.Fatalf("pre-promotion priority = %d, want 0", got.Priority)
	}

	if _, err := s.Rate(strangerID, 1, "", false); err != nil {
		t.Fatalf("rate: %v", err)
	}

	got, _ := s.GetMessageByHash(h1)
	if got.Priority <= 0 {
		t.Fatalf("post-promotion priority = %d, want > 0", got.Priority)
	}

	m2 := NewRating(2000, []Identifier{strangerID}, []Identifier{emailID("c@x.io")}, 5, "")
	if err := m2.Sign(strangerKey); err != nil {
		t.Fatal(err)
	}
	h2 := mustSave(t, s, m2)
	if fresh, _ := s.GetMessageByHash(h2); fresh.Priority <= 0 {
		t.Fatalf("fresh message priority = %d, want > 0", fresh.Priority)
	}
}

func TestPriorityNeverNegative(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	prolific := emailID("prolific@example.com")
	ts := int64(1000)
	// Flooding from one author engages the log10 damping; priority must
	// stay non-negative throughout.
	for i := 0; i < 15; i++ {
		recipient := emailID(string(rune('a'+i)) + "@x.io")
		mustSave(t, s, signedRating(t, key, prolific, recipient, ts, 1))
		ts += 100
	}
	msgs, err := s.GetMessagesByAuthor(prolific, MessageFilter{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) == 0 {
		t.Fatal("no messages back")
	}
	for _, m := range msgs {
		if m.Priority < 0 {
			t.Fatalf("priority %d < 0", m.Priority)
		}
	}
}
