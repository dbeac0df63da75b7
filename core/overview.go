package core

import (
	"fmt"
	"strings"
)

// IDOverview aggregates an identifier's rating activity: authored and
// received rating counts bucketed by sign, the first-seen timestamp, and
// the size of its trust map.
type IDOverview struct {
	AuthoredPositive int
	AuthoredNeutral  int
	AuthoredNegative int
	ReceivedPositive int
	ReceivedNeutral  int
	ReceivedNegative int
	FirstSeen        int64
	TrustMapSize     int
	Name             string
	Email            string
}

// GetIDOverview summarizes the latest rating messages involving id. With a
// viewpoint, received counts only consider ratings whose author is
// reachable within maxDistance (or is the viewpoint or id itself).
func (s *Store) GetIDOverview(id, viewpoint Identifier, maxDistance int) (IDOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var o IDOverview
	if s.closed {
		return o, ErrShutdown
	}

	var err error
	o.AuthoredPositive, o.AuthoredNeutral, o.AuthoredNegative, err =
		s.ratingCountsLocked(id, false, Identifier{}, 0)
	if err != nil {
		return o, err
	}
	o.ReceivedPositive, o.ReceivedNeutral, o.ReceivedNegative, err =
		s.ratingCountsLocked(id, true, viewpoint, maxDistance)
	if err != nil {
		return o, err
	}

	err = s.db.QueryRow(
		"SELECT IFNULL(MIN(m.Created), 0) FROM Messages AS m "+
			"INNER JOIN MessageIdentifiers AS mi ON mi.MessageHash = m.Hash "+
			"AND mi.Predicate = ? AND mi.Identifier = ?",
		id.Predicate, id.Value).Scan(&o.FirstSeen)
	if err != nil {
		return o, fmt.Errorf("overview first seen: %w", err)
	}

	if o.TrustMapSize, err = s.trustMapSizeLocked(id); err != nil {
		return o, err
	}
	o.Name = s.cachedValueLocked(cachedNameTable, id)
	o.Email = s.cachedValueLocked(cachedEmailTable, id)
	return o, nil
}

func (s *Store) ratingCountsLocked(id Identifier, received bool, viewpoint Identifier, maxDistance int) (pos, neu, neg int, err error) {
	var b strings.Builder
	var args []any
	b.WriteString(
		`SELECT
		 SUM(CASE WHEN m.Rating > (m.MinRating + m.MaxRating) / 2 THEN 1 ELSE 0 END),
		 SUM(CASE WHEN m.Rating = (m.MinRating + m.MaxRating) / 2 THEN 1 ELSE 0 END),
		 SUM(CASE WHEN m.Rating < (m.MinRating + m.MaxRating) / 2 THEN 1 ELSE 0 END)
		 FROM (SELECT DISTINCT m.Hash, m.Rating, m.MinRating, m.MaxRating FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS mi ON mi.MessageHash = m.Hash
		   AND mi.IsRecipient = ? AND mi.Predicate = ? AND mi.Identifier = ?`)
	args = append(args, boolInt(received), id.Predicate, id.Value)
	if !viewpoint.IsZero() {
		b.WriteString(
			` INNER JOIN MessageIdentifiers AS author ON author.MessageHash = m.Hash AND author.IsRecipient = 0
			 LEFT JOIN TrustPaths AS tp ON tp.StartPredicate = ? AND tp.StartID = ?
			   AND tp.EndPredicate = author.Predicate AND tp.EndID = author.Identifier`)
		args = append(args, viewpoint.Predicate, viewpoint.Value)
		if maxDistance > 0 {
			b.WriteString(" AND tp.Distance <= ?")
			args = append(args, maxDistance)
		}
	}
	b.WriteString(" WHERE m.Type = 'rating' AND m.IsLatest = 1")
	if !viewpoint.IsZero() {
		b.WriteString(
			` AND (tp.StartID IS NOT NULL
			 OR (author.Predicate = ? AND author.Identifier = ?)
			 OR (author.Predicate = ? AND author.Identifier = ?))`)
		args = append(args, viewpoint.Predicate, viewpoint.Value, id.Predicate, id.Value)
	}
	b.WriteString(") AS m")

	var p, n, g *int
	if err = s.db.QueryRow(b.String(), args...).Scan(&p, &n, &g); err != nil {
		return 0, 0, 0, fmt.Errorf("overview counts: %w", err)
	}
	if p != nil {
		pos = *p
	}
	if n != nil {
		neu = *n
	}
	if g != nil {
		neg = *g
	}
	return pos, neu, neg, nil
}
