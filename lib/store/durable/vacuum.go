package durable

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ValentinKolb/sKV/lib/store"
)

// compositeKeyLIKE matches keys of the form "<category>-<id>" with a
// non-empty part on both sides of the separator. Non-composite keys (e.g.
// the credentials record) are never vacuum candidates.
const compositeKeyLIKE = `_%-%_`

// startVacuumTicker launches the periodic vacuum pass. A non-positive
// interval disables it; Vacuum then only runs on demand.
func (s *storeImpl) startVacuumTicker() {
	if s.opts.VacuumInterval <= 0 {
		return
	}

	s.vacuumDone = make(chan struct{})
	s.vacuumLoop.Add(1)
	go func() {
		defer s.vacuumLoop.Done()

		ticker := time.NewTicker(s.opts.VacuumInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Vacuum(); err != nil {
					s.logger.Errorf("scheduled vacuum: %v", err)
				}
			case <-s.vacuumDone:
				return
			}
		}
	}()
}

// stopVacuumTicker stops the periodic pass and waits for it to exit.
func (s *storeImpl) stopVacuumTicker() {
	if s.vacuumDone == nil {
		return
	}
	close(s.vacuumDone)
	s.vacuumLoop.Wait()
}

// Vacuum removes session-auxiliary records whose last access is older than
// the configured maximum age, then reclaims file space. Calls inside the
// rate-limit window are silent no-ops; a failed pass gives the window back
// so the next caller can retry.
func (s *storeImpl) Vacuum() error {
	if s.disposed.Load() {
		return store.NewError(store.RetCStoreClosed, "store disposed")
	}

	now := time.Now().UnixNano()
	last := s.lastVacuum.Load()
	if now-last < int64(s.opts.VacuumInterval) {
		return nil
	}
	if !s.lastVacuum.CompareAndSwap(last, now) {
		// another caller won the window
		return nil
	}

	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	removed, err := s.vacuumPass()
	if err != nil {
		s.lastVacuum.Store(last)
		return err
	}

	vacuumTotal.Inc()
	if removed > 0 {
		vacuumRemoved.Add(removed)
		if err := s.eng.IncrementalVacuum(0); err != nil {
			s.logger.Warnf("space reclamation: %v", err)
		}
		s.logger.Infof("vacuum removed %d aged records", removed)
	}
	return nil
}

// vacuumPass deletes aged composite keys in bounded batches so a large
// backlog never holds one long transaction open. Caller holds maintMu.
func (s *storeImpl) vacuumPass() (int, error) {
	cutoff := time.Now().Add(-s.opts.VacuumMaxAge).UnixMilli()
	removed := 0

	for {
		batch, scanned, err := s.vacuumCandidates(cutoff)
		if err != nil {
			return removed, err
		}
		if len(batch) == 0 {
			break
		}

		err = s.eng.RunInTransaction(func(tx *sql.Tx) error {
			stmt := fmt.Sprintf(`DELETE FROM records WHERE key IN (%s)`, placeholders(len(batch)))
			_, err := tx.Exec(stmt, stringArgs(batch)...)
			return err
		})
		if err != nil {
			return removed, store.NewError(store.RetCInternalError, fmt.Sprintf("vacuum delete: %v", err))
		}

		for _, key := range batch {
			s.cache.Delete(key)
		}
		removed += len(batch)

		if scanned < s.opts.VacuumBatch {
			break
		}
	}

	return removed, nil
}

// vacuumCandidates returns one batch of aged composite keys plus the raw
// number of rows the scan matched. Keys with a staged upsert are skipped:
// their on-disk last_access is stale, and removing them would make a write
// invisible until the next flush.
func (s *storeImpl) vacuumCandidates(cutoff int64) ([]string, int, error) {
	rows, err := s.eng.DB().Query(
		`SELECT key FROM records WHERE last_access < ? AND key LIKE ? LIMIT ?`,
		cutoff, compositeKeyLIKE, s.opts.VacuumBatch)
	if err != nil {
		return nil, 0, store.NewError(store.RetCInternalError, fmt.Sprintf("vacuum scan: %v", err))
	}
	defer rows.Close()

	var keys []string
	scanned := 0
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, scanned, store.NewError(store.RetCInternalError, fmt.Sprintf("vacuum scan: %v", err))
		}
		scanned++
		if s.buffer.StagedUpsert(key) {
			continue
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, scanned, store.NewError(store.RetCInternalError, fmt.Sprintf("vacuum scan: %v", err))
	}
	return keys, scanned, nil
}
