package core

import (
	"fmt"
)

// SaveMessage validates and persists a message, maintains the IsLatest
// markers, and records distance-1 trust paths when the signer is trusted.
// Returns the message hash, or "" when the message is refused for zero
// priority under the save-untrusted-off policy. Re-ingesting an already
// stored message returns the same hash.
func (s *Store) SaveMessage(msg *Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	return s.saveMessageLocked(msg)
}

func (s *Store) saveMessageLocked(msg *Message) (string, error) {
	if !msg.Verify() {
		return "", ErrInvalidSignature
	}
	priority := s.computePriorityLocked(msg)
	if priority == 0 && !s.cfg.SaveUntrusted {
		return "", nil
	}

	hash := msg.Hash()
	for _, author := range msg.Author {
		if err := s.saveMessageEdgeLocked(hash, author, false); err != nil {
			return "", err
		}
	}
	for _, recipient := range msg.Recipient {
		if err := s.saveMessageEdgeLocked(hash, recipient, true); err != nil {
			return "", err
		}
	}
	if err := s.savePubKeyLocked(msg.SignerPubKey); err != nil {
		return "", err
	}

	if err := s.execRetry(
		`INSERT OR REPLACE INTO Messages
		 (Hash, SignedData, Created, Type, Rating, MinRating, MaxRating, HasRating,
		  Published, Priority, SignerPubKey, Signature, IsLatest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		hash, string(msg.CanonicalSignedData()), msg.Timestamp, msg.Type,
		msg.Rating, msg.MinRating, msg.MaxRating, boolInt(msg.HasRating),
		boolInt(msg.Published), priority, msg.SignerPubKey, msg.Signature); err != nil {
		return "", err
	}
	msg.Priority = priority

	if !msg.isConnectionType() {
		if err := s.updateIsLatestLocked(msg); err != nil {
			return "", err
		}
	}
	if err := s.saveMessageTrustPathsLocked(msg); err != nil {
		return "", err
	}

	s.log.Debugf("store: saved %s %s priority %d", msg.Type, hash, priority)
	return hash, nil
}

func (s *Store) saveMessageEdgeLocked(hash string, id Identifier, isRecipient bool) error {
	return s.execRetry(
		"INSERT OR IGNORE INTO MessageIdentifiers (MessageHash, Predicate, Identifier, IsRecipient) "+
			"VALUES (?, ?, ?, ?)",
		hash, id.Predicate, id.Value, boolInt(isRecipient))
}

// updateIsLatestLocked maintains the single-IsLatest invariant for each
// (type, author, recipient) class touched by msg where both identifiers
// are trust-pathable. A prior latest message superseded within the minimum
// interval is dropped outright instead of archived.
func (s *Store) updateIsLatestLocked(msg *Message) error {
	pathable := s.pathableSetLocked()

	type pair struct{ author, recipient Identifier }
	var pairs []pair
	for _, a := range msg.Author {
		if !pathable[a.Predicate] {
			continue
		}
		for _, r := range msg.Recipient {
			if !pathable[r.Predicate] {
				continue
			}
			pairs = append(pairs, pair{a, r})
		}
	}

	// Each (author, recipient) class is evaluated on its own: a class with
	// a within-interval prior drops it, every other class clears its
	// current latest marker.
	interval := int64(s.cfg.MinMessageInterval.Seconds())
	for _, p := range pairs {
		rows, err := s.db.Query(
			`SELECT m.Hash FROM Messages AS m
			 INNER JOIN MessageIdentifiers AS author ON author.MessageHash = m.Hash
			   AND author.IsRecipient = 0 AND author.Predicate = ? AND author.Identifier = ?
			 INNER JOIN MessageIdentifiers AS recipient ON recipient.MessageHash = m.Hash
			   AND recipient.IsRecipient = 1 AND recipient.Predicate = ? AND recipient.Identifier = ?
			 WHERE m.Type = ? AND m.IsLatest = 1 AND m.Created < ? AND (? - m.Created) < ?`,
			p.author.Predicate, p.author.Value, p.recipient.Predicate, p.recipient.Value,
			msg.Type, msg.Timestamp, msg.Timestamp, interval)
		if err != nil {
			return fmt.Errorf("latest scan: %w", err)
		}
		var toDrop []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("latest scan: %w", err)
			}
			toDrop = append(toDrop, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("latest scan: %w", err)
		}

		if len(toDrop) > 0 {
			for _, h := range toDrop {
				if err := s.dropMessageLocked(h); err != nil {
					return err
				}
			}
			continue
		}
		if err := s.execRetry(
			`UPDATE Messages SET IsLatest = 0 WHERE Hash IN (
			 SELECT m.Hash FROM Messages AS m
			 INNER JOIN MessageIdentifiers AS author ON author.MessageHash = m.Hash
			   AND author.IsRecipient = 0 AND author.Predicate = ? AND author.Identifier = ?
			 INNER JOIN MessageIdentifiers AS recipient ON recipient.MessageHash = m.Hash
			   AND recipient.IsRecipient = 1 AND recipient.Predicate = ? AND recipient.Identifier = ?
			 WHERE m.Type = ? AND m.IsLatest = 1)`,
			p.author.Predicate, p.author.Value, p.recipient.Predicate, p.recipient.Value,
			msg.Type); err != nil {
			return err
		}
	}

	for _, p := range pairs {
		if err := s.execRetry(
			`UPDATE Messages SET IsLatest = 1 WHERE Hash IN (
			 SELECT m.Hash FROM Messages AS m
			 INNER JOIN MessageIdentifiers AS author ON author.MessageHash = m.Hash
			   AND author.IsRecipient = 0 AND author.Predicate = ? AND author.Identifier = ?
			 INNER JOIN MessageIdentifiers AS recipient ON recipient.MessageHash = m.Hash
			   AND recipient.IsRecipient = 1 AND recipient.Predicate = ? AND recipient.Identifier = ?
			 WHERE m.Type = ? ORDER BY m.Created DESC, m.Hash DESC LIMIT 1)`,
			p.author.Predicate, p.author.Value, p.recipient.Predicate, p.recipient.Value,
			msg.Type); err != nil {
			return err
		}
	}
	return nil
}

// saveMessageTrustPathsLocked records a distance-1 trust path from every
// author to every recipient of a positive message with a trusted signer.
func (s *Store) saveMessageTrustPathsLocked(msg *Message) error {
	if !msg.IsPositive() {
		return nil
	}
	if !s.hasTrustedSignerLocked(msg) {
		return nil
	}
	for _, author := range msg.Author {
		for _, recipient := range msg.Recipient {
			if err := s.saveTrustPathLocked(author, recipient, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasTrustedSignerLocked reports whether the message signer's key is one of
// ours or reachable from one of ours.
func (s *Store) hasTrustedSignerLocked(msg *Message) bool {
	signerKeyID := s.savedKeyIDLocked(msg.SignerPubKey)
	if signerKeyID == "" {
		signerKeyID = keyIDFromPubKey(msg.SignerPubKey)
	}
	for _, my := range s.myKeyIDs {
		if my == signerKeyID {
			return true
		}
	}
	for _, my := range s.myKeyIDs {
		d := s.trustDistanceLocked(
			Identifier{Predicate: "keyID", Value: my},
			Identifier{Predicate: "keyID", Value: signerKeyID})
		if d > 0 {
			return true
		}
	}
	return false
}

// DropMessage removes a message and its edges, re-evaluates IsLatest for
// the classes it covered, and schedules trust-map regeneration for the
// locally-owned keys.
func (s *Store) DropMessage(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	return s.dropMessageLocked(hash)
}

func (s *Store) dropMessageLocked(hash string) error {
	msg, err := s.messageByHashLocked(hash)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM MessageIdentifiers WHERE MessageHash = ?", hash); err != nil {
		return fmt.Errorf("drop edges: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM Messages WHERE Hash = ?", hash); err != nil {
		return fmt.Errorf("drop message: %w", err)
	}
	if !msg.isConnectionType() {
		if err := s.updateIsLatestLocked(msg); err != nil {
			return err
		}
	}
	s.enqueueMyTrustMapsLocked()
	s.log.Debugf("store: dropped %s", hash)
	return nil
}

// Publish marks a stored message as published and hands it to the relay
// when one is installed.
func (s *Store) Publish(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	msg, err := s.messageByHashLocked(hash)
	if err != nil {
		return err
	}
	if err := s.execRetry("UPDATE Messages SET Published = 1 WHERE Hash = ?", hash); err != nil {
		return err
	}
	msg.Published = true
	if s.relay != nil {
		if err := s.relay.RelayMessage(msg); err != nil {
			s.log.Warnf("store: relay %s: %v", hash, err)
		}
	}
	return nil
}

func (s *Store) pathableSetLocked() map[string]bool {
	if s.pathable != nil {
		return s.pathable
	}
	set := make(map[string]bool)
	rows, err := s.db.Query("SELECT Value FROM TrustPathablePredicates")
	if err != nil {
		s.log.Warnf("store: predicate load: %v", err)
		return set
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			s.log.Warnf("store: predicate load: %v", err)
			return set
		}
		set[v] = true
	}
	s.pathable = set
	return set
}
