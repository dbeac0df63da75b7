package core

import (
	"time"
)

// Rate signs and stores a rating from the default key to the recipient.
// Returns the message hash.
func (s *Store) Rate(recipient Identifier, rating int, comment string, publish bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	if s.defaultKey == nil {
		return "", ErrUnknownKey
	}
	author := []Identifier{{Predicate: "keyID", Value: s.defaultKey.KeyID}}
	msg := NewRating(time.Now().Unix(), author, []Identifier{recipient}, rating, comment)
	return s.signAndSaveLocked(msg, publish)
}

// SaveRating signs and stores a rating between two explicit identifiers.
func (s *Store) SaveRating(author, recipient Identifier, rating int, comment string, publish bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	msg := NewRating(time.Now().Unix(), []Identifier{author}, []Identifier{recipient}, rating, comment)
	return s.signAndSaveLocked(msg, publish)
}

// SaveConnection signs and stores a confirm_connection linking id1 and id2.
func (s *Store) SaveConnection(author, id1, id2 Identifier, publish bool) (string, error) {
	return s.saveConnection(author, id1, id2, true, publish)
}

// RefuteConnection signs and stores a refute_connection between id1 and id2.
func (s *Store) RefuteConnection(author, id1, id2 Identifier, publish bool) (string, error) {
	return s.saveConnection(author, id1, id2, false, publish)
}

func (s *Store) saveConnection(author, id1, id2 Identifier, confirm, publish bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	msg := NewConnection(time.Now().Unix(), []Identifier{author}, id1, id2, confirm)
	return s.signAndSaveLocked(msg, publish)
}

// SaveMessageFromData ingests raw canonical message bytes. With sign set
// and no signature present, the envelope is signed with the default key.
func (s *Store) SaveMessageFromData(data []byte, publish, sign bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	msg, err := ParseMessage(data)
	if err != nil {
		return "", err
	}
	if sign && msg.Signature == "" {
		return s.signAndSaveLocked(msg, publish)
	}
	msg.Published = publish
	hash, err := s.saveMessageLocked(msg)
	if err != nil {
		return "", err
	}
	if publish && s.relay != nil {
		if err := s.relay.RelayMessage(msg); err != nil {
			s.log.Warnf("store: relay %s: %v", hash, err)
		}
	}
	return hash, nil
}

func (s *Store) signAndSaveLocked(msg *Message, publish bool) (string, error) {
	if s.defaultKey == nil {
		return "", ErrUnknownKey
	}
	if err := msg.Sign(s.defaultKey); err != nil {
		return "", err
	}
	msg.Published = publish
	hash, err := s.saveMessageLocked(msg)
	if err != nil {
		return "", err
	}
	if publish && s.relay != nil {
		if err := s.relay.RelayMessage(msg); err != nil {
			s.log.Warnf("store: relay %s: %v", hash, err)
		}
	}
	return hash, nil
}

// Connections returns the identity cluster of id as connection tuples,
// using LinkedIdentifiers under the hood.
func (s *Store) Connections(id, viewpoint Identifier, maxDistance, limit, offset int) ([]LinkedID, error) {
	return s.LinkedIdentifiers(id, viewpoint, maxDistance, limit, offset)
}
