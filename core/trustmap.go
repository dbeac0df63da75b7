package core

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// GenerateTrustMap recomputes the outgoing trust closure from viewpoint up
// to the given depth, replacing all stored paths with that start. Depth <= 0
// falls back to the configured worker depth.
func (s *Store) GenerateTrustMap(viewpoint Identifier, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if depth <= 0 {
		depth = s.cfg.TrustMapDepth
	}
	return s.generateTrustMapLocked(viewpoint, depth)
}

// generateTrustMapLocked is an iterative breadth-bounded closure over
// "positive latest" message edges whose endpoints are both trust-pathable.
// A vertex never repeats within a single expansion path.
func (s *Store) generateTrustMapLocked(viewpoint Identifier, depth int) error {
	if _, err := s.db.Exec(
		"DELETE FROM TrustPaths WHERE StartPredicate = ? AND StartID = ?",
		viewpoint.Predicate, viewpoint.Value); err != nil {
		return fmt.Errorf("trust map clear: %w", err)
	}

	type node struct {
		id   Identifier
		path string
	}
	frontier := []node{{id: viewpoint, path: viewpoint.pathToken()}}
	best := map[Identifier]int{}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []node
		for _, u := range frontier {
			neighbors, err := s.positiveLatestRecipientsLocked(u.id)
			if err != nil {
				return err
			}
			for _, v := range neighbors {
				token := v.pathToken()
				if strings.Contains(u.path, token) {
					continue
				}
				if prev, ok := best[v]; ok && prev <= d {
					continue
				}
				best[v] = d
				if err := s.saveTrustPathLocked(viewpoint, v, d); err != nil {
					return err
				}
				next = append(next, node{id: v, path: u.path + token})
			}
		}
		frontier = next
	}
	s.log.Debugf("store: trust map %s depth %d size %d", viewpoint, depth, len(best))
	return nil
}

// positiveLatestRecipientsLocked lists the recipients v of latest positive
// messages authored by u where both u and v are trust-pathable.
func (s *Store) positiveLatestRecipientsLocked(u Identifier) ([]Identifier, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT id2.Predicate, id2.Identifier FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS id1 ON id1.MessageHash = m.Hash
		   AND id1.IsRecipient = 0 AND id1.Predicate = ? AND id1.Identifier = ?
		 INNER JOIN TrustPathablePredicates AS tpp1 ON tpp1.Value = id1.Predicate
		 INNER JOIN MessageIdentifiers AS id2 ON id2.MessageHash = m.Hash
		   AND id2.IsRecipient = 1
		   AND (id2.Predicate != id1.Predicate OR id2.Identifier != id1.Identifier)
		 INNER JOIN TrustPathablePredicates AS tpp2 ON tpp2.Value = id2.Predicate
		 WHERE m.IsLatest = 1 AND m.HasRating = 1
		   AND m.Rating > (m.MinRating + m.MaxRating) / 2`,
		u.Predicate, u.Value)
	if err != nil {
		return nil, fmt.Errorf("trust edges: %w", err)
	}
	defer rows.Close()
	var out []Identifier
	for rows.Next() {
		var id Identifier
		if err := rows.Scan(&id.Predicate, &id.Value); err != nil {
			return nil, fmt.Errorf("trust edges: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// saveTrustPathLocked records a directed path unless a path at equal or
// lower distance already exists. Paths starting from an owned key trigger a
// priority refresh for the newly reached identifier.
func (s *Store) saveTrustPathLocked(start, end Identifier, distance int) error {
	if start == end {
		return nil
	}
	var existing int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM TrustPaths WHERE StartPredicate = ? AND StartID = ? "+
			"AND EndPredicate = ? AND EndID = ? AND Distance <= ?",
		start.Predicate, start.Value, end.Predicate, end.Value, distance).Scan(&existing)
	if err != nil {
		return fmt.Errorf("trust path lookup: %w", err)
	}
	if existing > 0 {
		return nil
	}
	if err := s.execRetry(
		"INSERT OR REPLACE INTO TrustPaths (StartPredicate, StartID, EndPredicate, EndID, Distance) "+
			"VALUES (?, ?, ?, ?, ?)",
		start.Predicate, start.Value, end.Predicate, end.Value, distance); err != nil {
		return err
	}

	if start.Predicate == "keyID" {
		for _, my := range s.myKeyIDs {
			if my == start.Value {
				if err := s.updateMessagePrioritiesLocked(end); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// TrustDistance returns the stored directed distance from start to end, 0
// for a self-lookup, and -1 when no path is known.
func (s *Store) TrustDistance(start, end Identifier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1, ErrShutdown
	}
	return s.trustDistanceLocked(start, end), nil
}

func (s *Store) trustDistanceLocked(start, end Identifier) int {
	if start == end {
		return 0
	}
	var distance int
	err := s.db.QueryRow(
		"SELECT Distance FROM TrustPaths WHERE StartPredicate = ? AND StartID = ? "+
			"AND EndPredicate = ? AND EndID = ?",
		start.Predicate, start.Value, end.Predicate, end.Value).Scan(&distance)
	if err == sql.ErrNoRows {
		return -1
	}
	if err != nil {
		s.log.Warnf("store: distance lookup: %v", err)
		return -1
	}
	return distance
}

// TrustMapSize counts the distinct identifiers reachable from id.
func (s *Store) TrustMapSize(id Identifier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrShutdown
	}
	return s.trustMapSizeLocked(id)
}

func (s *Store) trustMapSizeLocked(id Identifier) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM (SELECT DISTINCT EndPredicate, EndID FROM TrustPaths "+
			"WHERE StartPredicate = ? AND StartID = ?)",
		id.Predicate, id.Value).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("trust map size: %w", err)
	}
	return n, nil
}

// GetPaths enumerates the concrete vertex-disjoint paths from start to end
// up to the given depth, shortest first. Each path includes both endpoints.
func (s *Store) GetPaths(start, end Identifier, depth int) ([][]Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	if depth <= 0 {
		depth = 3
	}

	var paths [][]Identifier
	var walk func(u Identifier, path []Identifier, pathStr string, d int) error
	walk = func(u Identifier, path []Identifier, pathStr string, d int) error {
		if d > depth {
			return nil
		}
		neighbors, err := s.positiveLatestRecipientsLocked(u)
		if err != nil {
			return err
		}
		for _, v := range neighbors {
			token := v.pathToken()
			if strings.Contains(pathStr, token) {
				continue
			}
			branch := make([]Identifier, len(path), len(path)+1)
			copy(branch, path)
			branch = append(branch, v)
			if v == end {
				paths = append(paths, branch)
				continue
			}
			if err := walk(v, branch, pathStr+token, d+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(start, []Identifier{start}, start.pathToken(), 1); err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool { return len(paths[i]) < len(paths[j]) })
	return paths, nil
}
