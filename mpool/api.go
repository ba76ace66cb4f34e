package mpool

import "sync/atomic"

// Sync implements spec.md §6.2's memp_sync: flush every dirty,
// WAL-eligible buffer and fsync every touched file.
func (p *Pool) Sync() (int, error) {
	var wrote int
	err := p.SyncInt(SyncOpts{Op: SyncCache}, &wrote)
	return wrote, err
}

// FSync implements spec.md §6.2's fsync(file): flush and fsync just one
// file's dirty pages.
func (p *Pool) FSync(mfp *MPOOLFile) (int, error) {
	var wrote int
	err := p.SyncInt(SyncOpts{Op: SyncFile, MFP: mfp}, &wrote)
	return wrote, err
}

// bufferCounts sums total and dirty buffer counts across every cache
// partition, the __memp_trickle "loop through the caches counting
// total/dirty buffers" step (bdb/mp/mp_trickle.c).
func (p *Pool) bufferCounts() (total, dirty int) {
	for _, mp := range p.caches {
		total += int(atomic.LoadInt32(&mp.pages))
		for _, bk := range mp.buckets {
			bk.mu.Lock()
			dirty += bk.dirtyCount
			bk.mu.Unlock()
		}
	}
	return total, dirty
}

// Trickle implements spec.md §6.2's memp_trickle (bdb/mp/mp_trickle.c's
// __memp_trickle): keep at least pct percent of buffers clean. If clean
// buffers already meet or exceed pct (or there are no buffers at all),
// this is a no-op; otherwise it writes back just enough dirty buffers,
// taken in file-id then page-number order (the order SyncInt sorts
// candidates in), to reach that percentage, without the
// WAL-eligibility or fsync a full Sync performs.
func (p *Pool) Trickle(pct int) (int, error) {
	var wrote int
	if pct < 1 || pct > 100 {
		return 0, nil
	}

	total, dirty := p.bufferCounts()
	if total == 0 || dirty == 0 {
		return 0, nil
	}
	clean := total - dirty
	if (clean*100)/total >= pct {
		return 0, nil
	}

	need := ((total * pct) / 100) - clean
	if need <= 0 {
		return 0, nil
	}
	err := p.SyncInt(SyncOpts{Op: SyncTrickle, Max: need}, &wrote)
	return wrote, err
}
