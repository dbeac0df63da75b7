package core

import (
	"fmt"
	"math"
)

// maxPriority is the ceiling of the storage value metric.
const maxPriority = 100

// unreachableDistance stands in for an infinite trust distance.
const unreachableDistance = 1000000

// computePriorityLocked scores a message by how close its signer and its
// authors sit to the locally-owned keys. Untrusted messages score 0 and are
// first in line for eviction.
func (s *Store) computePriorityLocked(msg *Message) int {
	signerKeyID := s.savedKeyIDLocked(msg.SignerPubKey)
	if signerKeyID == "" && msg.SignerPubKey != "" {
		signerKeyID = keyIDFromPubKey(msg.SignerPubKey)
	}

	shortestToSigner := unreachableDistance
	if signerKeyID != "" {
		for _, my := range s.myKeyIDs {
			if my == signerKeyID {
				shortestToSigner = 1
				break
			}
			d := s.trustDistanceLocked(
				Identifier{Predicate: "keyID", Value: my},
				Identifier{Predicate: "keyID", Value: signerKeyID})
			if d > 0 && d < shortestToSigner {
				shortestToSigner = d
			}
		}
	}

	shortestToAuthor := unreachableDistance
	mostMessagesFromAuthor := 0
	isMyMessage := false
	for _, author := range msg.Author {
		if shortestToAuthor > 1 {
			for _, my := range s.myKeyIDs {
				if author.Predicate == "keyID" && author.Value == my {
					shortestToAuthor = 1
					isMyMessage = true
					break
				}
				d := s.trustDistanceLocked(Identifier{Predicate: "keyID", Value: my}, author)
				if d > 0 && d < shortestToAuthor {
					shortestToAuthor = d
				}
			}
		}
		if n := s.messageCountByAuthorLocked(author); n > mostMessagesFromAuthor {
			mostMessagesFromAuthor = n
		}
	}

	priority := (maxPriority / shortestToSigner) * (maxPriority / shortestToAuthor)
	if !isMyMessage && mostMessagesFromAuthor > 10 {
		priority = int(float64(priority) / math.Log10(float64(mostMessagesFromAuthor)))
	}
	if priority == 0 && shortestToSigner < unreachableDistance {
		return 5 / shortestToSigner
	}
	return priority / maxPriority
}

func (s *Store) messageCountByAuthorLocked(author Identifier) int {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM MessageIdentifiers WHERE Predicate = ? AND Identifier = ? AND IsRecipient = 0",
		author.Predicate, author.Value).Scan(&n)
	if err != nil {
		s.log.Warnf("store: author count: %v", err)
		return 0
	}
	return n
}

// updateMessagePrioritiesLocked recomputes the priority of every message
// authored or signed by the given identifier. Called when a trust path from
// an owned key newly reaches it.
func (s *Store) updateMessagePrioritiesLocked(id Identifier) error {
	hashes := map[string]struct{}{}

	rows, err := s.db.Query(
		"SELECT MessageHash FROM MessageIdentifiers WHERE Predicate = ? AND Identifier = ? AND IsRecipient = 0",
		id.Predicate, id.Value)
	if err != nil {
		return fmt.Errorf("priority refresh: %w", err)
	}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("priority refresh: %w", err)
		}
		hashes[h] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("priority refresh: %w", err)
	}

	if id.Predicate == "keyID" {
		rows, err := s.db.Query(
			"SELECT m.Hash FROM Messages AS m INNER JOIN Keys AS k ON k.PubKey = m.SignerPubKey WHERE k.KeyID = ?",
			id.Value)
		if err != nil {
			return fmt.Errorf("priority refresh: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("priority refresh: %w", err)
			}
			hashes[h] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("priority refresh: %w", err)
		}
	}

	for h := range hashes {
		msg, err := s.messageByHashLocked(h)
		if err != nil {
			return err
		}
		if err := s.execRetry(
			"UPDATE Messages SET Priority = ? WHERE Hash = ?",
			s.computePriorityLocked(msg), h); err != nil {
			return err
		}
	}
	return nil
}
