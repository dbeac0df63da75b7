package core

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// peerFileMagic prefixes the peer-address blob so a foreign or truncated
// file is rejected before the checksum is even looked at.
var peerFileMagic = [4]byte{0x74, 0x6d, 0x73, 0x68}

const peerFileName = "peers.dat"

// ErrPeerFileCorrupt is returned when the peer blob fails its magic or
// checksum check.
var ErrPeerFileCorrupt = errors.New("peer file corrupt")

// WritePeerData atomically persists the opaque peer-address payload under
// the data dir as magic || payload || SHA-256(magic || payload), going
// through a temp file plus rename.
func (s *Store) WritePeerData(payload []byte) error {
	var rnd [2]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return fmt.Errorf("peer file: %w", err)
	}
	tmp := filepath.Join(s.cfg.DataDir, peerFileName+"."+hex.EncodeToString(rnd[:]))

	var buf bytes.Buffer
	buf.Write(peerFileMagic[:])
	buf.Write(payload)
	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("peer file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.cfg.DataDir, peerFileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("peer file: %w", err)
	}
	return nil
}

// ReadPeerData loads and verifies the peer-address payload.
func (s *Store) ReadPeerData() ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.cfg.DataDir, peerFileName))
	if err != nil {
		return nil, fmt.Errorf("peer file: %w", err)
	}
	if len(raw) < len(peerFileMagic)+sha256.Size {
		return nil, ErrPeerFileCorrupt
	}
	if !bytes.Equal(raw[:len(peerFileMagic)], peerFileMagic[:]) {
		return nil, ErrPeerFileCorrupt
	}
	body := raw[:len(raw)-sha256.Size]
	sum := sha256.Sum256(body)
	if !bytes.Equal(raw[len(raw)-sha256.Size:], sum[:]) {
		return nil, ErrPeerFileCorrupt
	}
	return body[len(peerFileMagic):], nil
}
