package core

import (
	"errors"
	"time"
)

// workerIdleSleep is how long the worker naps when the queue is empty.
const workerIdleSleep = time.Second

type trustMapItem struct {
	id    Identifier
	depth int
}

// AddToTrustMapQueue schedules a trust-map regeneration for id. Idempotent:
// an identifier already queued is not queued twice.
func (s *Store) AddToTrustMapQueue(id Identifier, depth int) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if _, queued := s.queueSet[id]; queued {
		return true
	}
	s.queue = append(s.queue, trustMapItem{id: id, depth: depth})
	s.queueSet[id] = struct{}{}
	return true
}

// enqueueMyTrustMapsLocked schedules regeneration for every owned key.
func (s *Store) enqueueMyTrustMapsLocked() {
	for _, keyID := range s.myKeyIDs {
		s.AddToTrustMapQueue(Identifier{Predicate: "keyID", Value: keyID}, s.cfg.TrustMapDepth)
	}
}

func (s *Store) peekTrustMapItem() (trustMapItem, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return trustMapItem{}, false
	}
	return s.queue[0], true
}

// finishTrustMapItem removes the head item once it has been processed; only
// then may the identifier be queued again.
func (s *Store) finishTrustMapItem(item trustMapItem) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) > 0 && s.queue[0].id == item.id {
		s.queue = s.queue[1:]
		delete(s.queueSet, item.id)
	}
}

// dbWorker is the single background worker: it drains the trust-map queue
// and sleeps when idle. Errors are logged and the loop continues; only
// shutdown stops it.
func (s *Store) dbWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		default:
		}
		item, ok := s.peekTrustMapItem()
		if !ok {
			select {
			case <-s.quit:
				return
			case <-time.After(workerIdleSleep):
			}
			continue
		}
		if err := s.GenerateTrustMap(item.id, item.depth); err != nil {
			if errors.Is(err, ErrShutdown) {
				return
			}
			s.log.Warnf("store: trust map %s: %v", item.id, err)
		}
		s.finishTrustMapItem(item)
	}
}

// TrustMapQueueLen reports the number of pending regeneration items.
func (s *Store) TrustMapQueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}
