package cache

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	sweptExpired = metrics.NewCounter("skv_cache_swept_expired_total")
	evictedLFU   = metrics.NewCounter("skv_cache_evicted_lfu_total")
)

// startSweeper launches the periodic maintenance loop. It is idempotent.
func (t *tableImpl) startSweeper() {
	if !t.sweeping.CompareAndSwap(false, true) {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.sweepOnce()
			case <-t.done:
				return
			}
		}
	}()
}

// stopSweeper stops the maintenance loop and waits for it to exit.
func (t *tableImpl) stopSweeper() {
	if !t.sweeping.CompareAndSwap(true, false) {
		return
	}
	close(t.done)
	t.wg.Wait()
}

// sweepOnce removes expired rows, then evicts never-expiring rows beyond the
// configured capacity, least frequently used first.
func (t *tableImpl) sweepOnce() {
	result, err := t.eng.DB().Exec(
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli())
	if err != nil {
		t.logger.Errorf("expiry sweep: %v", err)
		return
	}
	if removed, err := result.RowsAffected(); err == nil && removed > 0 {
		sweptExpired.Add(int(removed))
		t.logger.Debugf("sweep removed %d expired entries", removed)
	}

	t.evictOverflow()
}

// evictOverflow bounds the never-expiring population. Eviction order is
// (access_freq ASC, last_access ASC): the least used rows go first, oldest
// access first among ties.
func (t *tableImpl) evictOverflow() {
	var count int
	err := t.eng.DB().QueryRow(
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at IS NULL`).Scan(&count)
	if err != nil {
		t.logger.Errorf("eviction count: %v", err)
		return
	}

	excess := count - t.opts.MaxPersistent
	if excess <= 0 {
		return
	}

	result, err := t.eng.DB().Exec(
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries WHERE expires_at IS NULL
			ORDER BY access_freq ASC, last_access ASC LIMIT ?
		)`, excess)
	if err != nil {
		t.logger.Errorf("eviction: %v", err)
		return
	}
	if evicted, err := result.RowsAffected(); err == nil && evicted > 0 {
		evictedLFU.Add(int(evicted))
		t.logger.Infof("evicted %d persistent entries over capacity %d", evicted, t.opts.MaxPersistent)
	}
}
