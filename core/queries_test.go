package core

import (
	"testing"
)

func seedRatings(t *testing.T, s *Store) (alice, bob Identifier) {
	t.Helper()
	key, _ := s.DefaultKey()
	alice = emailID("alice@example.com")
	bob = emailID("bob@example.com")
	carl := emailID("carl@example.com")

	mustSave(t, s, signedRating(t, key, alice, bob, 1000, 5))
	mustSave(t, s, signedRating(t, key, alice, carl, 1001, -5))
	mustSave(t, s, signedRating(t, key, bob, carl, 1002, 0))
	return alice, bob
}

func TestMessagesByAuthorAndRecipient(t *testing.T) {
	s := newTestStore(t)
	alice, bob := seedRatings(t, s)

	byAlice, err := s.GetMessagesByAuthor(alice, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAlice) != 2 {
		t.Fatalf("messages by alice = %d, want 2", len(byAlice))
	}
	toBob, err := s.GetMessagesByRecipient(bob, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(toBob) != 1 {
		t.Fatalf("messages to bob = %d, want 1", len(toBob))
	}
}

func TestMessageTypeFilters(t *testing.T) {
	s := newTestStore(t)
	alice, _ := seedRatings(t, s)

	positive, err := s.GetMessagesByAuthor(alice, MessageFilter{MsgType: "rating/positive"})
	if err != nil {
		t.Fatal(err)
	}
	if len(positive) != 1 || positive[0].Rating != 5 {
		t.Fatalf("positive filter returned %d messages", len(positive))
	}
	negative, err := s.GetMessagesByAuthor(alice, MessageFilter{MsgType: "rating/negative"})
	if err != nil {
		t.Fatal(err)
	}
	if len(negative) != 1 || negative[0].Rating != -5 {
		t.Fatalf("negative filter returned %d messages", len(negative))
	}
	none, err := s.GetMessagesByAuthor(alice, MessageFilter{MsgType: "!rating"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("negated filter returned %d messages", len(none))
	}
}

func TestPagination(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	author := emailID("prolific@example.com")
	for i := 0; i < 5; i++ {
		recipient := emailID(string(rune('a'+i)) + "@x.io")
		mustSave(t, s, signedRating(t, key, author, recipient, int64(1000+i), 1))
	}

	page1, err := s.GetMessagesByAuthor(author, MessageFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	page2, err := s.GetMessagesByAuthor(author, MessageFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("page sizes = %d, %d, want 2, 2", len(page1), len(page2))
	}
	if page1[0].Hash() == page2[0].Hash() {
		t.Fatal("pages overlap")
	}
	// Newest first.
	if page1[0].Timestamp < page1[1].Timestamp {
		t.Fatal("ordering is not newest first")
	}
}

func TestMessagesAfterTimestamp(t *testing.T) {
	s := newTestStore(t)
	seedRatings(t, s)

	msgs, err := s.GetMessagesAfterTimestamp(1000, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages after 1000 = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Timestamp <= 1000 {
			t.Fatalf("timestamp %d not after 1000", m.Timestamp)
		}
	}
}

func TestMessagesBeforeAndAfterMessage(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	a, b, c := emailID("a@x.io"), emailID("b@x.io"), emailID("c@x.io")
	h1 := mustSave(t, s, signedRating(t, key, a, b, 1000, 1))
	h2 := mustSave(t, s, signedRating(t, key, b, c, 2000, 1))
	h3 := mustSave(t, s, signedRating(t, key, c, a, 3000, 1))

	after, err := s.GetMessagesAfterMessage(h1, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("after = %d, want 2", len(after))
	}
	if after[0].Hash() != h2 || after[1].Hash() != h3 {
		t.Fatal("after ordering wrong")
	}

	before, err := s.GetMessagesBeforeMessage(h3, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 {
		t.Fatalf("before = %d, want 2", len(before))
	}
	if before[0].Hash() != h2 || before[1].Hash() != h1 {
		t.Fatal("before ordering wrong")
	}
}

func TestViewpointFilterRestrictsToReachableAuthors(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice, bob, mallory := emailID("alice@example.com"), emailID("bob@example.com"), emailID("mallory@example.com")

	mustSave(t, s, signedRating(t, key, alice, bob, 1000, 1))
	mustSave(t, s, signedRating(t, key, mallory, bob, 1001, 1))
	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetMessagesByRecipient(bob, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered = %d, want 2", len(all))
	}

	seen, err := s.GetMessagesByRecipient(bob, MessageFilter{Viewpoint: alice})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Fatalf("viewpoint filtered = %d, want 1 (mallory unreachable)", len(seen))
	}
	if seen[0].Author[0] != alice {
		t.Fatal("wrong message passed the viewpoint filter")
	}
}

func TestGetMessagesBySigner(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	stranger := testKey(t, 60)

	mustSave(t, s, signedRating(t, key, emailID("a@x.io"), emailID("b@x.io"), 1000, 1))
	msg := signedRating(t, stranger, emailID("c@x.io"), emailID("d@x.io"), 1001, 1)
	mustSave(t, s, msg)

	mine, err := s.GetMessagesBySigner(key.KeyID, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 {
		t.Fatalf("by signer = %d, want 1", len(mine))
	}
	theirs, err := s.GetMessagesBySigner(stranger.KeyID, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(theirs) != 1 {
		t.Fatalf("by stranger = %d, want 1", len(theirs))
	}
}

func TestLatestMessagesAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	seedRatings(t, s)

	latest, err := s.GetLatestMessages(MessageFilter{LatestOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 3 {
		t.Fatalf("latest = %d, want 3", len(latest))
	}
	ts, err := s.GetLatestMessageTimestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts != 1002 {
		t.Fatalf("latest timestamp = %d, want 1002", ts)
	}
}
