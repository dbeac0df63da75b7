package core

import (
	"testing"
)

// seedRatingChain saves the S-shaped rating graph alice→bob→carl→david,
// david→bob, all signed by the store's default key.
func seedRatingChain(t *testing.T, s *Store) (alice, bob, carl, david Identifier) {
	t.Helper()
	key, err := s.DefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	alice = emailID("alice@example.com")
	bob = emailID("bob@example.com")
	carl = emailID("carl@example.com")
	david = emailID("david@example.com")
	ts := int64(1000)
	for _, edge := range [][2]Identifier{{alice, bob}, {bob, carl}, {carl, david}, {david, bob}} {
		mustSave(t, s, signedRating(t, key, edge[0], edge[1], ts, 1))
		ts++
	}
	return alice, bob, carl, david
}

func TestTransitiveTrustMap(t *testing.T) {
	s := newTestStore(t)
	alice, _, _, david := seedRatingChain(t, s)

	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatalf("generate: %v", err)
	}
	d, err := s.TrustDistance(alice, david)
	if err != nil {
		t.Fatal(err)
	}
	if d <= 0 || d > 3 {
		t.Fatalf("distance alice→david = %d, want in 1..3", d)
	}

	none, err := s.TrustDistance(
		Identifier{Predicate: "p1", Value: "nobody1"},
		Identifier{Predicate: "p2", Value: "nobody2"})
	if err != nil {
		t.Fatal(err)
	}
	if none != -1 {
		t.Fatalf("distance between strangers = %d, want -1", none)
	}

	size, err := s.TrustMapSize(alice)
	if err != nil {
		t.Fatal(err)
	}
	if size != 3 {
		t.Fatalf("trust map size = %d, want 3 (bob, carl, david)", size)
	}
}

func TestTrustMapRespectsDepth(t *testing.T) {
	s := newTestStore(t)
	alice, bob, carl, david := seedRatingChain(t, s)

	if err := s.GenerateTrustMap(alice, 1); err != nil {
		t.Fatal(err)
	}
	if d, _ := s.TrustDistance(alice, bob); d != 1 {
		t.Fatalf("distance alice→bob = %d, want 1", d)
	}
	for _, id := range []Identifier{carl, david} {
		if d, _ := s.TrustDistance(alice, id); d != -1 {
			t.Fatalf("distance alice→%s = %d, want -1 at depth 1", id.Value, d)
		}
	}
}

func TestTrustMapIgnoresNegativeEdges(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice, eve := emailID("alice@example.com"), emailID("eve@example.com")

	mustSave(t, s, signedRating(t, key, alice, eve, 1000, -5))
	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatal(err)
	}
	if d, _ := s.TrustDistance(alice, eve); d != -1 {
		t.Fatalf("negative rating must not create a trust edge, got distance %d", d)
	}
}

func TestTrustMapSkipsNonPathablePredicates(t *testing.T) {
	s := newTestStore(t)
	key, _ := s.DefaultKey()
	alice := emailID("alice@example.com")
	pet := Identifier{Predicate: "nickname", Value: "Rex"}

	mustSave(t, s, signedRating(t, key, alice, pet, 1000, 5))
	if err := s.GenerateTrustMap(alice, 4); err != nil {
		t.Fatal(err)
	}
	if d, _ := s.TrustDistance(alice, pet); d != -1 {
		t.Fatalf("nickname is not trust-pathable, got distance %d", d)
	}
}

func TestGetPaths(t *testing.T) {
	s := newTestStore(t)
	alice, bob, carl, david := seedRatingChain(t, s)

	paths, err := s.GetPaths(alice, david, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("expected at least one path alice→david")
	}
	want := []Identifier{alice, bob, carl, david}
	got := paths[0]
	if len(got) != len(want) {
		t.Fatalf("path length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("path[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGetPathsDepthBound(t *testing.T) {
	s := newTestStore(t)
	alice, _, _, david := seedRatingChain(t, s)

	paths, err := s.GetPaths(alice, david, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Fatalf("no alice→david path exists within depth 2, got %d", len(paths))
	}
}

func TestSelfDistanceIsZero(t *testing.T) {
	s := newTestStore(t)
	alice := emailID("alice@example.com")
	if d, _ := s.TrustDistance(alice, alice); d != 0 {
		t.Fatalf("self distance = %d, want 0", d)
	}
}
