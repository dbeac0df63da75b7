package core

import "errors"

// Error kinds surfaced by the store. Each condition gets its own sentinel so
// callers can branch with errors.Is without string matching.
var (
	// ErrInvalidFormat is returned when message bytes do not parse or do
	// not survive a canonicalization round trip.
	ErrInvalidFormat = errors.New("invalid message format")

	// ErrInvalidSignature is returned when signature verification over the
	// canonical signed data fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownKey is returned when a requested private key is not stored.
	ErrUnknownKey = errors.New("unknown key")

	// ErrNotFound is returned for lookups and deletes of absent rows.
	ErrNotFound = errors.New("not found")

	// ErrNotEnoughSpace is returned when eviction cannot free the bytes an
	// operation needs within the configured budget. The page-budget Full
	// condition itself never escapes the store: the eviction loop recovers
	// from it or converts it to this error.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrShutdown is returned by operations attempted after Close.
	ErrShutdown = errors.New("store is shut down")
)
