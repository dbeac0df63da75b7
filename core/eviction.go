package core

import (
	"database/sql"
	"fmt"
)

// evictionChunkBytes is the amount of space the eviction loop frees per
// Full recovery. One page is the minimum an insert can need; freeing a few
// keeps the retry count low without over-evicting.
const evictionChunkBytes = 4 * 4096

// execRetry runs a write statement, recovering from the Full condition by
// evicting the lowest-priority messages and retrying. Full never escapes;
// the statement either succeeds or fails with ErrNotEnoughSpace.
func (s *Store) execRetry(query string, args ...any) error {
	for {
		_, err := s.db.Exec(query, args...)
		if err == nil {
			return nil
		}
		if !isFullErr(err) {
			return fmt.Errorf("exec: %w", err)
		}
		s.log.Debugf("store: database full, evicting")
		if ferr := s.makeFreeSpaceLocked(evictionChunkBytes); ferr != nil {
			return ferr
		}
	}
}

// makeFreeSpaceLocked drops messages in ascending (priority, created) order
// until at least needed bytes sit on the freelist. Returns
// ErrNotEnoughSpace when the budget can never satisfy the request or there
// is nothing left to drop.
func (s *Store) makeFreeSpaceLocked(needed int64) error {
	if needed > s.maxPageCount*s.pageSize {
		return ErrNotEnoughSpace
	}
	for {
		hash, err := s.evictionVictimLocked()
		if err != nil {
			return err
		}
		if err := s.dropMessageLocked(hash); err != nil {
			return err
		}
		var freePages int64
		if err := s.db.QueryRow("PRAGMA freelist_count").Scan(&freePages); err != nil {
			return fmt.Errorf("eviction freelist: %w", err)
		}
		if freePages*s.pageSize >= needed {
			return nil
		}
	}
}

// evictionVictimLocked selects the globally least valuable message: lowest
// priority, oldest creation time as the tie breaker.
func (s *Store) evictionVictimLocked() (string, error) {
	var hash string
	err := s.db.QueryRow(
		"SELECT Hash FROM Messages ORDER BY Priority ASC, Created ASC LIMIT 1").Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotEnoughSpace
	}
	if err != nil {
		return "", fmt.Errorf("eviction scan: %w", err)
	}
	return hash, nil
}
