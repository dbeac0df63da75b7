package core

import (
	"sort"
	"strings"
)

// Identifier is a typed name for an actor or resource: an (predicate, value)
// pair such as ("email", "alice@example.com") or ("keyID", "1Gq7...").
// Identifiers are value objects; the only graph over them is the relational
// join through message edges.
type Identifier struct {
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

// IsZero reports whether the identifier is the empty pair.
func (id Identifier) IsZero() bool {
	return id.Predicate == "" && id.Value == ""
}

// String renders the identifier in predicate:value form for logs.
func (id Identifier) String() string {
	return id.Predicate + ":" + id.Value
}

// pathToken renders the identifier as a path-string component with ":"
// escaped as "::", terminated by a single ":". Path strings are the
// vertex-uniqueness guard used by the graph closures.
func (id Identifier) pathToken() string {
	esc := func(s string) string { return strings.ReplaceAll(s, ":", "::") }
	return esc(id.Predicate) + ":" + esc(id.Value) + ":"
}

// defaultTrustPathablePredicates names the identifier types that may serve
// as intermediate hops in trust paths. The set is seeded into its own table
// on first open so deployments can extend it.
var defaultTrustPathablePredicates = []string{
	"mbox",
	"email",
	"account",
	"url",
	"tel",
	"keyID",
	"base58pubkey",
	"bitcoin_address",
	"bitcoin",
	"identifi_msg",
	"twitter",
	"facebook",
	"google_oauth2",
}

// sortIdentifiers orders a list canonically: byte-lexicographic over the
// (predicate, value) pair. Author and recipient lists must be in this order
// before hashing and signing.
func sortIdentifiers(ids []Identifier) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Predicate != ids[j].Predicate {
			return ids[i].Predicate < ids[j].Predicate
		}
		return ids[i].Value < ids[j].Value
	})
}

// identifiersSorted reports whether the list is already in canonical order.
func identifiersSorted(ids []Identifier) bool {
	return sort.SliceIsSorted(ids, func(i, j int) bool {
		if ids[i].Predicate != ids[j].Predicate {
			return ids[i].Predicate < ids[j].Predicate
		}
		return ids[i].Value < ids[j].Value
	})
}
