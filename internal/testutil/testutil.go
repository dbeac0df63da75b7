// Package testutil holds shared fixtures for tests across packages.
package testutil

import (
	"io"

	"github.com/btcsuite/btcutil/base58"
	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards all output, for tests that do
// not assert on log lines.
func QuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// DeterministicSecret returns a base58-encoded 32-byte secret derived from
// seed, giving tests reproducible keypairs.
func DeterministicSecret(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed ^ byte(i*7+1)
	}
	// A secp256k1 secret of all-distinct small bytes is always in range.
	return base58.Encode(raw)
}
