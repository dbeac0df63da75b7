package core

import (
	"fmt"
	"strings"
)

// SearchResult is one identifier matched by SearchForID, enriched with its
// cached name and email.
type SearchResult struct {
	ID    Identifier
	Name  string
	Email string
}

// SearchForID finds identifiers whose value contains the query substring,
// optionally restricted to one predicate. Results are ordered by trust
// distance from the viewpoint (unreachable last), then lexicographically.
func (s *Store) SearchForID(query string, predicate string, viewpoint Identifier, limit, offset int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	var args []any
	b.WriteString(
		`SELECT DISTINCT mi.Predicate, mi.Identifier, IFNULL(tp.Distance, ?) AS dist
		 FROM MessageIdentifiers AS mi
		 LEFT JOIN TrustPaths AS tp ON tp.StartPredicate = ? AND tp.StartID = ?
		   AND tp.EndPredicate = mi.Predicate AND tp.EndID = mi.Identifier
		 WHERE mi.Identifier LIKE ? ESCAPE '\'`)
	args = append(args, unreachableDistance, viewpoint.Predicate, viewpoint.Value, "%"+escapeLike(query)+"%")
	if predicate != "" {
		b.WriteString(" AND mi.Predicate = ?")
		args = append(args, predicate)
	}
	b.WriteString(" ORDER BY dist ASC, mi.Predicate ASC, mi.Identifier ASC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var dist int
		if err := rows.Scan(&r.ID.Predicate, &r.ID.Value, &dist); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Name = s.cachedValueLocked(cachedNameTable, results[i].ID)
		results[i].Email = s.cachedValueLocked(cachedEmailTable, results[i].ID)
	}
	return results, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
