package core

import (
	"crypto/sha256"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Key is a secp256k1 keypair known to the store. PubKey and KeyID are always
// set; PrivKey only for locally-owned keys.
type Key struct {
	PubKey    string
	KeyID     string
	PrivKey   string
	IsDefault bool

	priv *secp256k1.PrivateKey
}

func encodeBase58(b []byte) string { return base58.Encode(b) }
func decodeBase58(s string) []byte { return base58.Decode(s) }

// keyIDFromPubKey derives the short key identifier: base58 of the SHA-256
// digest of the serialized public key.
func keyIDFromPubKey(pubKey string) string {
	sum := sha256.Sum256(decodeBase58(pubKey))
	return encodeBase58(sum[:])
}

func generateKey() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return keyFromPriv(priv), nil
}

func keyFromPriv(priv *secp256k1.PrivateKey) *Key {
	pubKey := encodeBase58(priv.PubKey().SerializeCompressed())
	return &Key{
		PubKey:  pubKey,
		KeyID:   keyIDFromPubKey(pubKey),
		PrivKey: encodeBase58(priv.Serialize()),
		priv:    priv,
	}
}

// keyFromSecret rebuilds a keypair from its base58-encoded 32-byte secret.
func keyFromSecret(secret string) (*Key, error) {
	raw := decodeBase58(secret)
	if len(raw) != 32 {
		return nil, ErrUnknownKey
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return keyFromPriv(priv), nil
}

// SavePubKey records a public key in the Keys table. Idempotent.
func (s *Store) SavePubKey(pubKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	return s.savePubKeyLocked(pubKey)
}

func (s *Store) savePubKeyLocked(pubKey string) error {
	if _, err := parsePubKey(pubKey); err != nil {
		return ErrInvalidSignature
	}
	return s.execRetry(
		"INSERT OR IGNORE INTO Keys (PubKey, KeyID) VALUES (?, ?)",
		pubKey, keyIDFromPubKey(pubKey))
}

// SavedKeyID returns the key identifier recorded for a public key, or ""
// when the key is unknown.
func (s *Store) SavedKeyID(pubKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.savedKeyIDLocked(pubKey)
}

func (s *Store) savedKeyIDLocked(pubKey string) string {
	var keyID string
	err := s.db.QueryRow("SELECT KeyID FROM Keys WHERE PubKey = ?", pubKey).Scan(&keyID)
	if err != nil {
		return ""
	}
	return keyID
}

// ImportPrivKey stores a locally-owned private key given its base58 secret.
// The first imported key, or any imported with setDefault, becomes the
// default signing key.
func (s *Store) ImportPrivKey(secret string, setDefault bool) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	key, err := keyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	if err := s.importKeyLocked(key, setDefault); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Store) importKeyLocked(key *Key, setDefault bool) error {
	if err := s.execRetry(
		"INSERT OR IGNORE INTO Keys (PubKey, KeyID) VALUES (?, ?)",
		key.PubKey, key.KeyID); err != nil {
		return err
	}
	var haveDefault int
	if err := s.db.QueryRow("SELECT COUNT(1) FROM PrivateKeys WHERE IsDefault = 1").Scan(&haveDefault); err != nil {
		return fmt.Errorf("default key lookup: %w", err)
	}
	isDefault := setDefault || haveDefault == 0
	if isDefault {
		if err := s.execRetry("UPDATE PrivateKeys SET IsDefault = 0"); err != nil {
			return err
		}
	}
	if err := s.execRetry(
		"INSERT OR REPLACE INTO PrivateKeys (PubKey, PrivateKey, IsDefault) VALUES (?, ?, ?)",
		key.PubKey, key.PrivKey, boolInt(isDefault)); err != nil {
		return err
	}
	key.IsDefault = isDefault
	if isDefault {
		s.defaultKey = key
	}
	s.reloadMyKeyIDsLocked()
	s.enqueueMyTrustMapsLocked()
	return nil
}

// NewKey generates, stores, and returns a fresh keypair.
func (s *Store) NewKey() (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	return s.newKeyLocked()
}

func (s *Store) newKeyLocked() (*Key, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := s.importKeyLocked(key, false); err != nil {
		return nil, err
	}
	return key, nil
}

// SetDefaultKey marks the stored private key identified by its base58
// secret as the default signing key.
func (s *Store) SetDefaultKey(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	key, err := keyFromSecret(secret)
	if err != nil {
		return err
	}
	var stored string
	err = s.db.QueryRow("SELECT PrivateKey FROM PrivateKeys WHERE PubKey = ?", key.PubKey).Scan(&stored)
	if err == sql.ErrNoRows {
		return ErrUnknownKey
	}
	if err != nil {
		return fmt.Errorf("default key lookup: %w", err)
	}
	if err := s.execRetry("UPDATE PrivateKeys SET IsDefault = 0"); err != nil {
		return err
	}
	if err := s.execRetry("UPDATE PrivateKeys SET IsDefault = 1 WHERE PubKey = ?", key.PubKey); err != nil {
		return err
	}
	key.IsDefault = true
	s.defaultKey = key
	return nil
}

// DefaultKey returns the default signing key.
func (s *Store) DefaultKey() (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	if s.defaultKey == nil {
		return nil, ErrUnknownKey
	}
	return s.defaultKey, nil
}

// MyKeys lists locally-owned keys with their key identifiers.
func (s *Store) MyKeys() ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	rows, err := s.db.Query(
		"SELECT k.PubKey, k.KeyID, pk.PrivateKey, pk.IsDefault FROM PrivateKeys AS pk " +
			"INNER JOIN Keys AS k ON k.PubKey = pk.PubKey ORDER BY k.KeyID")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		var isDefault int
		if err := rows.Scan(&k.PubKey, &k.KeyID, &k.PrivKey, &isDefault); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		k.IsDefault = isDefault == 1
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MyKeyIDs returns the key identifiers of locally-owned keys. The slice is
// cached and refreshed on key table writes.
func (s *Store) MyKeyIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.myKeyIDs))
	copy(out, s.myKeyIDs)
	return out
}

func (s *Store) reloadMyKeyIDsLocked() {
	rows, err := s.db.Query(
		"SELECT k.KeyID FROM PrivateKeys AS pk INNER JOIN Keys AS k ON k.PubKey = pk.PubKey")
	if err != nil {
		s.log.Warnf("key id reload: %v", err)
		return
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.log.Warnf("key id reload: %v", err)
			return
		}
		ids = append(ids, id)
	}
	s.myKeyIDs = ids
}

func (s *Store) loadDefaultKeyLocked() error {
	var pub, priv string
	err := s.db.QueryRow(
		"SELECT PubKey, PrivateKey FROM PrivateKeys WHERE IsDefault = 1").Scan(&pub, &priv)
	if err == sql.ErrNoRows {
		_, err := s.newKeyLocked()
		return err
	}
	if err != nil {
		return fmt.Errorf("load default key: %w", err)
	}
	key, err := keyFromSecret(priv)
	if err != nil {
		return err
	}
	key.IsDefault = true
	s.defaultKey = key
	return nil
}

// AddSignature attaches a signature envelope to an already-stored message,
// replacing the previous one. The signature must verify.
func (s *Store) AddSignature(hash, signerPubKey, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	msg, err := s.messageByHashLocked(hash)
	if err != nil {
		return err
	}
	msg.SignerPubKey = signerPubKey
	msg.Signature = signature
	if !msg.Verify() {
		return ErrInvalidSignature
	}
	if err := s.savePubKeyLocked(signerPubKey); err != nil {
		return err
	}
	return s.execRetry(
		"UPDATE Messages SET SignerPubKey = ?, Signature = ? WHERE Hash = ?",
		signerPubKey, signature, hash)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
