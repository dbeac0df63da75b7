package core

import (
	"testing"
)

func TestSearchForID(t *testing.T) {
	s := newTestStore(t)
	seedRatings(t, s)

	results, err := s.SearchForID("example.com", "", Identifier{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	byPred, err := s.SearchForID("alice", "email", Identifier{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byPred) != 1 || byPred[0].ID.Value != "alice@example.com" {
		t.Fatalf("predicate-filtered results = %v", byPred)
	}

	none, err := s.SearchForID("zebra", "", Identifier{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("results = %d, want 0", len(none))
	}
}

func TestSearchOrdersByDistanceFromViewpoint(t *testing.T) {
	s := newTestStore(t)
	alice, _, _, _ := seedRatingChain(t, s)
	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchForID("example.com", "", alice, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	// bob is at distance 1 from alice, so he sorts first; alice herself
	// has no stored path and sorts with the unreachable tail.
	if results[0].ID.Value != "bob@example.com" {
		t.Fatalf("first result = %s, want bob@example.com", results[0].ID.Value)
	}
}

func TestOverviewCounts(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice, bob := emailID("alice@example.com"), emailID("bob@example.com")
	carl := emailID("carl@example.com")

	mustSave(t, s, signedRating(t, key, alice, bob, 1000, 5))
	mustSave(t, s, signedRating(t, key, carl, bob, 1001, -5))
	mustSave(t, s, signedRating(t, key, bob, carl, 1002, 0))

	o, err := s.GetIDOverview(bob, Identifier{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if o.ReceivedPositive != 1 || o.ReceivedNegative != 1 || o.ReceivedNeutral != 0 {
		t.Fatalf("received = (+%d =%d -%d)", o.ReceivedPositive, o.ReceivedNeutral, o.ReceivedNegative)
	}
	if o.AuthoredNeutral != 1 || o.AuthoredPositive != 0 {
		t.Fatalf("authored = (+%d =%d -%d)", o.AuthoredPositive, o.AuthoredNeutral, o.AuthoredNegative)
	}
	if o.FirstSeen != 1000 {
		t.Fatalf("first seen = %d, want 1000", o.FirstSeen)
	}
}

func TestOverviewViewpointRestriction(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice, bob, mallory := emailID("alice@example.com"), emailID("bob@example.com"), emailID("mallory@example.com")

	mustSave(t, s, signedRating(t, key, alice, bob, 1000, 5))
	mustSave(t, s, signedRating(t, key, mallory, bob, 1001, 5))
	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatal(err)
	}

	o, err := s.GetIDOverview(bob, alice, 0)
	if err != nil {
		t.Fatal(err)
	}
	if o.ReceivedPositive != 1 {
		t.Fatalf("received positive = %d, want 1 (mallory filtered)", o.ReceivedPositive)
	}
}
