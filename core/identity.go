package core

import (
	"fmt"
	"strings"
)

// identityClosureDepth bounds the connection closure.
const identityClosureDepth = 10

// LinkedID is one member of an identity cluster: an identifier connected to
// the start by confirm/refute_connection messages, with its tallies.
type LinkedID struct {
	ID            Identifier
	Confirmations int
	Refutations   int
	Distance      int
}

// LinkedIdentifiers computes the identity cluster of start: the transitive
// set of identifiers connected by net-positive confirmations. The closure is
// materialized under a fresh IdentityID and the best-supported name and
// email are cached for start as a side effect. An optional viewpoint
// restricts the considered connection messages to reachable authors.
func (s *Store) LinkedIdentifiers(start, viewpoint Identifier, maxDistance, limit, offset int) ([]LinkedID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	return s.linkedIdentifiersLocked(start, viewpoint, maxDistance, limit, offset)
}

type connEdge struct {
	id            Identifier
	confirmations int
	refutations   int
}

func (s *Store) connectionNeighborsLocked(u, viewpoint Identifier, maxDistance int) ([]connEdge, error) {
	var b strings.Builder
	var args []any
	b.WriteString(
		`SELECT id2.Predicate, id2.Identifier,
		 SUM(CASE WHEN m.Type = 'confirm_connection' THEN 1 ELSE 0 END),
		 SUM(CASE WHEN m.Type = 'refute_connection' THEN 1 ELSE 0 END)
		 FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS id1 ON id1.MessageHash = m.Hash
		   AND id1.IsRecipient = 1 AND id1.Predicate = ? AND id1.Identifier = ?
		 INNER JOIN MessageIdentifiers AS id2 ON id2.MessageHash = m.Hash
		   AND id2.IsRecipient = 1
		   AND (id2.Predicate != id1.Predicate OR id2.Identifier != id1.Identifier) `)
	args = append(args, u.Predicate, u.Value)
	useViewpoint := !viewpoint.IsZero()
	if useViewpoint {
		b.WriteString(
			`INNER JOIN MessageIdentifiers AS author ON author.MessageHash = m.Hash AND author.IsRecipient = 0
			 LEFT JOIN TrustPaths AS tp ON tp.StartPredicate = ? AND tp.StartID = ?
			   AND tp.EndPredicate = author.Predicate AND tp.EndID = author.Identifier `)
		args = append(args, viewpoint.Predicate, viewpoint.Value)
		if maxDistance > 0 {
			b.WriteString("AND tp.Distance <= ? ")
			args = append(args, maxDistance)
		}
	}
	b.WriteString("WHERE m.Type IN ('confirm_connection', 'refute_connection') ")
	if useViewpoint {
		b.WriteString("AND (tp.StartID IS NOT NULL OR (author.Predicate = ? AND author.Identifier = ?)) ")
		args = append(args, viewpoint.Predicate, viewpoint.Value)
	}
	b.WriteString("GROUP BY id2.Predicate, id2.Identifier")

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("connection edges: %w", err)
	}
	defer rows.Close()
	var out []connEdge
	for rows.Next() {
		var e connEdge
		if err := rows.Scan(&e.id.Predicate, &e.id.Value, &e.confirmations, &e.refutations); err != nil {
			return nil, fmt.Errorf("connection edges: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) linkedIdentifiersLocked(start, viewpoint Identifier, maxDistance, limit, offset int) ([]LinkedID, error) {
	pathable := s.pathableSetLocked()

	totals := map[Identifier]*LinkedID{}
	visited := map[Identifier]bool{start: true}
	frontier := []Identifier{start}

	for d := 1; d <= identityClosureDepth && len(frontier) > 0; d++ {
		var next []Identifier
		for _, u := range frontier {
			edges, err := s.connectionNeighborsLocked(u, viewpoint, maxDistance)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if e.id == start {
					continue
				}
				t := totals[e.id]
				if t == nil {
					t = &LinkedID{ID: e.id, Distance: d}
					totals[e.id] = t
				}
				t.Confirmations += e.confirmations
				t.Refutations += e.refutations
				if !visited[e.id] && e.confirmations > e.refutations && pathable[e.id.Predicate] {
					visited[e.id] = true
					next = append(next, e.id)
				}
			}
		}
		frontier = next
	}

	identityID, err := s.materializeClusterLocked(start, viewpoint, totals)
	if err != nil {
		return nil, err
	}
	results, err := s.readClusterLocked(start, viewpoint, identityID, totals)
	if err != nil {
		return nil, err
	}
	s.cacheBestNameEmailLocked(start, results)

	if offset > 0 {
		if offset >= len(results) {
			results = nil
		} else {
			results = results[offset:]
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// materializeClusterLocked writes the closure under the next IdentityID and
// prunes older materializations of the same (start, viewpoint) pair; no
// reader depends on a non-maximum IdentityID, and other starts'
// materializations are left alone.
func (s *Store) materializeClusterLocked(start, viewpoint Identifier, totals map[Identifier]*LinkedID) (int64, error) {
	var identityID int64
	if err := s.db.QueryRow("SELECT IFNULL(MAX(IdentityID), 0) + 1 FROM Identities").Scan(&identityID); err != nil {
		return 0, fmt.Errorf("identity id: %w", err)
	}
	for _, t := range totals {
		if err := s.execRetry(
			"INSERT OR REPLACE INTO Identities "+
				"(IdentityID, StartPredicate, StartID, Predicate, Identifier, ViewpointPredicate, ViewpointID, Confirmations, Refutations) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			identityID, start.Predicate, start.Value, t.ID.Predicate, t.ID.Value,
			viewpoint.Predicate, viewpoint.Value, t.Confirmations, t.Refutations); err != nil {
			return 0, err
		}
	}
	if err := s.execRetry(
		"INSERT OR REPLACE INTO Identities "+
			"(IdentityID, StartPredicate, StartID, Predicate, Identifier, ViewpointPredicate, ViewpointID, Confirmations, Refutations) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, 1, 1)",
		identityID, start.Predicate, start.Value, start.Predicate, start.Value,
		viewpoint.Predicate, viewpoint.Value); err != nil {
		return 0, err
	}
	// Stale materializations of this (start, viewpoint) pair are never
	// read again; queries always target the IdentityID allocated above.
	if _, err := s.db.Exec(
		"DELETE FROM Identities WHERE StartPredicate = ? AND StartID = ? "+
			"AND ViewpointPredicate = ? AND ViewpointID = ? AND IdentityID < ?",
		start.Predicate, start.Value, viewpoint.Predicate, viewpoint.Value, identityID); err != nil {
		return 0, fmt.Errorf("identity prune: %w", err)
	}
	return identityID, nil
}

func (s *Store) readClusterLocked(start, viewpoint Identifier, identityID int64, totals map[Identifier]*LinkedID) ([]LinkedID, error) {
	rows, err := s.db.Query(
		"SELECT Predicate, Identifier, Confirmations, Refutations FROM Identities "+
			"WHERE IdentityID = ? AND StartPredicate = ? AND StartID = ? "+
			"AND NOT (Predicate = ? AND Identifier = ?) "+
			"ORDER BY Confirmations - Refutations DESC, Predicate, Identifier",
		identityID, start.Predicate, start.Value, start.Predicate, start.Value)
	if err != nil {
		return nil, fmt.Errorf("identity read: %w", err)
	}
	defer rows.Close()
	var out []LinkedID
	for rows.Next() {
		var l LinkedID
		if err := rows.Scan(&l.ID.Predicate, &l.ID.Value, &l.Confirmations, &l.Refutations); err != nil {
			return nil, fmt.Errorf("identity read: %w", err)
		}
		l.Distance = 1
		if t, ok := totals[l.ID]; ok {
			l.Distance = t.Distance
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// cacheBestNameEmailLocked derives the best-supported name (name beats
// nickname) and email for start from its cluster and stores them in the
// lookup caches. With no candidate the cache entry is cleared.
func (s *Store) cacheBestNameEmailLocked(start Identifier, cluster []LinkedID) {
	var bestName Identifier
	var bestEmail string
	mostNameConfirmations, mostEmailConfirmations := 0, 0

	for _, l := range cluster {
		pred := l.ID.Predicate
		if start.Predicate != "name" && start.Predicate != "nickname" {
			if pred == "name" || (bestName.Value == "" && pred == "nickname") {
				supported := l.Refutations == 0 || l.Confirmations > l.Refutations
				better := l.Confirmations >= mostNameConfirmations ||
					(pred == "name" && bestName.Predicate == "nickname")
				if supported && better {
					bestName = l.ID
					mostNameConfirmations = l.Confirmations
				}
			}
		}
		if start.Predicate != "email" && pred == "email" {
			if l.Confirmations > l.Refutations && l.Confirmations >= mostEmailConfirmations {
				bestEmail = l.ID.Value
				mostEmailConfirmations = l.Confirmations
			}
		}
	}

	s.updateCachedValueLocked(cachedNameTable, start, bestName.Value)
	s.updateCachedValueLocked(cachedEmailTable, start, bestEmail)
}

const (
	cachedNameTable  = "CachedNames"
	cachedEmailTable = "CachedEmails"
)

func (s *Store) updateCachedValueLocked(table string, id Identifier, value string) {
	column := "CachedName"
	if table == cachedEmailTable {
		column = "CachedEmail"
	}
	var err error
	if value == "" {
		_, err = s.db.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE Predicate = ? AND Identifier = ?", table),
			id.Predicate, id.Value)
	} else {
		err = s.execRetry(
			fmt.Sprintf("INSERT OR REPLACE INTO %s (Predicate, Identifier, %s) VALUES (?, ?, ?)", table, column),
			id.Predicate, id.Value, value)
	}
	if err != nil {
		s.log.Warnf("store: cache update %s: %v", table, err)
	}
}

// CachedName returns the cached display name for id, if any.
func (s *Store) CachedName(id Identifier) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.cachedValueLocked(cachedNameTable, id)
}

// CachedEmail returns the cached email for id, if any.
func (s *Store) CachedEmail(id Identifier) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.cachedValueLocked(cachedEmailTable, id)
}

func (s *Store) cachedValueLocked(table string, id Identifier) string {
	column := "CachedName"
	if table == cachedEmailTable {
		column = "CachedEmail"
	}
	var v string
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM %s WHERE Predicate = ? AND Identifier = ?", column, table),
		id.Predicate, id.Value).Scan(&v)
	if err != nil {
		return ""
	}
	return v
}
