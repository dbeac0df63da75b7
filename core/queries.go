package core

import (
	"fmt"
	"strings"
)

// MessageFilter is the shared filter composition for the message listing
// queries. Zero values mean "no constraint"; Limit defaults to 20.
type MessageFilter struct {
	// Viewpoint restricts results to messages whose author is reachable
	// from this identifier (or is the identifier itself).
	Viewpoint   Identifier
	MaxDistance int

	// MsgType filters by message type. A "!" prefix negates. The
	// sub-forms rating/positive, rating/neutral and rating/negative
	// select rating messages by their sign.
	MsgType string

	// LatestOnly keeps only messages with the IsLatest marker.
	LatestOnly bool

	Limit  int
	Offset int
}

func (f MessageFilter) limits() (int, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// appendJoins adds the viewpoint reachability joins. The message table must
// be aliased m.
func (f MessageFilter) appendJoins(b *strings.Builder, args *[]any) {
	if f.Viewpoint.IsZero() {
		return
	}
	b.WriteString(
		` INNER JOIN MessageIdentifiers AS vauthor ON vauthor.MessageHash = m.Hash AND vauthor.IsRecipient = 0
		 LEFT JOIN TrustPaths AS vtp ON vtp.StartPredicate = ? AND vtp.StartID = ?
		   AND vtp.EndPredicate = vauthor.Predicate AND vtp.EndID = vauthor.Identifier`)
	*args = append(*args, f.Viewpoint.Predicate, f.Viewpoint.Value)
	if f.MaxDistance > 0 {
		b.WriteString(" AND vtp.Distance <= ?")
		*args = append(*args, f.MaxDistance)
	}
	b.WriteString(" ")
}

// appendWhere adds the viewpoint, type, and latest constraints. The caller
// must have opened a WHERE clause already.
func (f MessageFilter) appendWhere(b *strings.Builder, args *[]any) {
	if !f.Viewpoint.IsZero() {
		b.WriteString(" AND (vtp.StartID IS NOT NULL OR (vauthor.Predicate = ? AND vauthor.Identifier = ?))")
		*args = append(*args, f.Viewpoint.Predicate, f.Viewpoint.Value)
	}
	switch {
	case f.MsgType == "":
	case strings.HasPrefix(f.MsgType, "!"):
		b.WriteString(" AND m.Type != ?")
		*args = append(*args, strings.TrimPrefix(f.MsgType, "!"))
	case strings.HasPrefix(f.MsgType, TypeRating+"/"):
		op := ">"
		switch strings.TrimPrefix(f.MsgType, TypeRating+"/") {
		case "neutral":
			op = "="
		case "negative":
			op = "<"
		}
		fmt.Fprintf(b, " AND m.Type = '%s' AND m.Rating %s (m.MinRating + m.MaxRating) / 2", TypeRating, op)
	default:
		b.WriteString(" AND m.Type = ?")
		*args = append(*args, f.MsgType)
	}
	if f.LatestOnly {
		b.WriteString(" AND m.IsLatest = 1")
	}
}

const messageColumns = "m.SignedData, m.Published, m.Priority, m.SignerPubKey, m.Signature, m.IsLatest"

func (s *Store) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("message query: %w", err)
	}
	defer rows.Close()
	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// GetMessagesByAuthor lists messages authored by id, newest first.
func (s *Store) GetMessagesByAuthor(id Identifier, f MessageFilter) ([]*Message, error) {
	return s.messagesByEdge(id, false, f)
}

// GetMessagesByRecipient lists messages naming id as recipient, newest
// first.
func (s *Store) GetMessagesByRecipient(id Identifier, f MessageFilter) ([]*Message, error) {
	return s.messagesByEdge(id, true, f)
}

func (s *Store) messagesByEdge(id Identifier, isRecipient bool, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b,
		`SELECT %s FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS mi ON mi.MessageHash = m.Hash
		   AND mi.IsRecipient = ? AND mi.Predicate = ? AND mi.Identifier = ?`, messageColumns)
	args = append(args, boolInt(isRecipient), id.Predicate, id.Value)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE 1=1")
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetMessagesByIdentifier lists messages involving id as author or
// recipient, newest first.
func (s *Store) GetMessagesByIdentifier(id Identifier, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b,
		`SELECT %s FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS mi ON mi.MessageHash = m.Hash
		   AND mi.Predicate = ? AND mi.Identifier = ?`, messageColumns)
	args = append(args, id.Predicate, id.Value)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE 1=1")
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetMessagesBySigner lists messages signed by the key with the given key
// identifier, newest first.
func (s *Store) GetMessagesBySigner(keyID string, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b,
		`SELECT %s FROM Messages AS m
		 INNER JOIN Keys AS k ON k.PubKey = m.SignerPubKey AND k.KeyID = ?`, messageColumns)
	args = append(args, keyID)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE 1=1")
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetLatestMessages lists the most recent messages, newest first.
func (s *Store) GetLatestMessages(f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM Messages AS m", messageColumns)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE 1=1")
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetMessagesAfterTimestamp lists messages created after ts, oldest first.
func (s *Store) GetMessagesAfterTimestamp(ts int64, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM Messages AS m", messageColumns)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE m.Created > ?")
	args = append(args, ts)
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created ASC, m.Hash ASC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetMessagesAfterMessage lists messages ordered after the one with the
// given hash, oldest first.
func (s *Store) GetMessagesAfterMessage(hash string, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	created, err := s.messageCreatedLocked(hash)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM Messages AS m", messageColumns)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE (m.Created > ? OR (m.Created = ? AND m.Hash > ?))")
	args = append(args, created, created, hash)
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created ASC, m.Hash ASC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetMessagesBeforeMessage lists messages ordered before the one with the
// given hash, newest first.
func (s *Store) GetMessagesBeforeMessage(hash string, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	created, err := s.messageCreatedLocked(hash)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM Messages AS m", messageColumns)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE (m.Created < ? OR (m.Created = ? AND m.Hash < ?))")
	args = append(args, created, created, hash)
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

func (s *Store) messageCreatedLocked(hash string) (int64, error) {
	var created int64
	err := s.db.QueryRow("SELECT Created FROM Messages WHERE Hash = ?", hash).Scan(&created)
	if err != nil {
		return 0, ErrNotFound
	}
	return created, nil
}

// GetConnectingMessages lists the connection messages that name both id1
// and id2 as recipients.
func (s *Store) GetConnectingMessages(id1, id2 Identifier, f MessageFilter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b,
		`SELECT %s FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS i1 ON i1.MessageHash = m.Hash
		   AND i1.IsRecipient = 1 AND i1.Predicate = ? AND i1.Identifier = ?
		 INNER JOIN MessageIdentifiers AS i2 ON i2.MessageHash = m.Hash
		   AND i2.IsRecipient = 1 AND i2.Predicate = ? AND i2.Identifier = ?`, messageColumns)
	args = append(args, id1.Predicate, id1.Value, id2.Predicate, id2.Value)
	f.appendJoins(&b, &args)
	b.WriteString(" WHERE m.Type IN ('confirm_connection', 'refute_connection')")
	f.appendWhere(&b, &args)
	b.WriteString(" GROUP BY m.Hash ORDER BY m.Created DESC, m.Hash DESC LIMIT ? OFFSET ?")
	limit, offset := f.limits()
	args = append(args, limit, offset)
	return s.queryMessages(b.String(), args...)
}

// GetLatestMessageTimestamp returns the creation time of the newest stored
// message, or 0 when the store is empty.
func (s *Store) GetLatestMessageTimestamp() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrShutdown
	}
	var ts int64
	err := s.db.QueryRow("SELECT Created FROM Messages ORDER BY Created DESC LIMIT 1").Scan(&ts)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}
