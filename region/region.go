// Package region implements the shared region manager (spec.md §4.1): the
// environment region lifecycle (attach/create/detach/remove), the
// sub-region descriptor table, and the best-fit allocator each region's
// metadata lives in (see alloc.go).
//
// A real multi-process Berkeley DB maps these regions into POSIX shared
// memory or a memory-mapped file so unrelated processes can attach to the
// same environment. This Go port keeps the same attach/create/detach
// protocol and the same sentinel-file handshake (spec.md §4.1 "first
// attacher wins the exclusive create-or-fail handshake"), but backs the
// region itself with a process-local arena (region.Allocator): the
// sentinel file coordinates *which process* is the creator, while
// Registry lets every goroutine within this process share the live
// *Environment by a stable environment id, matching DESIGN NOTES §9's
// instruction to replace the original's DB_GLOBAL(db_envq) with an
// explicit, non-global registry.
package region

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
)

var log = logging.Named("region")

const magicWord uint32 = 0x5442444D // "DBDBT" esque constant; this in-process backend never writes or checks it (see GoLive)

// SubRegionType tags what a sub-region backs, per spec.md §3.2.
type SubRegionType int

const (
	TypeEnv SubRegionType = iota
	TypeMPool
	TypeLock
	TypeLog
	TypeTxn
	TypeMutex
)

// subRegionState is the tri-state spec.md §3.1 invariant requires for each
// descriptor slot.
type subRegionState int

const (
	stateUnused subRegionState = iota
	stateLive
	stateDestroyed
)

// SubRegion is one descriptor in the environment's sub-region table.
type SubRegion struct {
	ID     uint32
	Type   SubRegionType
	Size   uint32
	SegID  int64 // platform segment id for system-memory regions, else InvalidSegID
	state  subRegionState
	Alloc  *Allocator
}

// InvalidSegID is the sentinel meaning "not a system-memory segment".
const InvalidSegID int64 = -1

// Environment is one process's live attachment to a REGENV region.
type Environment struct {
	mu sync.Mutex

	Home    string
	ID      uint32
	Version [3]int
	Created time.Time

	refcount int
	panicked bool

	nextSubRegionID uint32
	subRegions      []*SubRegion

	clock clock.Clock
}

// Registry is the process-wide table of live environments, keyed by
// environment id, replacing the original's hidden global queue (spec.md
// §9 DESIGN NOTES, "Global mutable state").
type Registry struct {
	mu   sync.Mutex
	envs map[uint32]*Environment
}

// NewRegistry creates an empty registry. Callers typically keep one
// package-level instance per process (see DefaultRegistry) but nothing in
// this package requires a singleton.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[uint32]*Environment)}
}

// DefaultRegistry is the process-wide registry the XA-style adapters and
// command-line entry points share; library callers that want isolation
// should construct their own Registry instead.
var DefaultRegistry = NewRegistry()

func (r *Registry) lookup(home string) *Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.envs {
		if e.Home == home && !e.panicked {
			return e
		}
	}
	return nil
}

func (r *Registry) register(e *Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs[e.ID] = e
}

func (r *Registry) unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.envs, id)
}

// sentinelName is the small coordination file spec.md §6.3 calls "a
// sentinel 'environment' file in the environment directory".
const sentinelName = "__db.region.env"

// Attach implements spec.md §4.1's Attach algorithm: try to create the
// environment via an exclusive sentinel file; on EEXIST, join the live
// environment already registered for this home directory. Retries up to
// three times with linear back-off on a transient inconsistency, per
// spec.md §4.1.
func Attach(r *Registry, home string, arenaSize uint32, c clock.Clock) (*Environment, error) {
	if c == nil {
		c = clock.System{}
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		env, err := attachOnce(r, home, arenaSize, c)
		if err == nil {
			return env, nil
		}
		lastErr = err
		log.Debugf("region: attach attempt %d for %s failed: %v", attempt+1, home, err)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, errs.Wrap(errs.ErrAgain, "region: attach %s: %v", home, lastErr)
}

func attachOnce(r *Registry, home string, arenaSize uint32, c clock.Clock) (*Environment, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrIO, "region: mkdir %s: %v", home, err)
	}
	sentinel := filepath.Join(home, sentinelName)

	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err == nil {
		defer f.Close()
		return create(r, home, arenaSize, c)
	}
	if !os.IsExist(err) {
		return nil, errs.Wrap(errs.ErrIO, "region: create sentinel %s: %v", sentinel, err)
	}

	// EEXIST: someone else is the creator (possibly us, from a prior run
	// in this same process). Join the live environment if this process
	// already registered one for this home.
	if env := r.lookup(home); env != nil {
		env.mu.Lock()
		if env.panicked {
			env.mu.Unlock()
			return nil, errs.ErrPanic
		}
		env.refcount++
		env.mu.Unlock()
		return env, nil
	}

	// No in-process environment yet for an existing sentinel: another
	// process (or a crashed prior run of this one) created the directory.
	// A single-process embedding never has a second attacher that isn't
	// already registered, so treat this as a stale creator and recreate.
	if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.ErrIO, "region: clear stale sentinel %s: %v", sentinel, err)
	}
	return nil, errs.Wrap(errs.ErrAgain, "region: stale sentinel cleared, retry")
}

func create(r *Registry, home string, arenaSize uint32, c clock.Clock) (*Environment, error) {
	ids := clock.NewIDGenerator(c)
	env := &Environment{
		Home:       home,
		ID:         ids.Next(),
		Version:    [3]int{1, 0, 0},
		Created:    time.Now(),
		refcount:   1,
		subRegions: make([]*SubRegion, 0, 8),
		clock:      c,
	}
	r.register(env)
	log.Infof("region: created environment %s (id=%d)", home, env.ID)
	return env, nil
}

// GoLive is the commit point spec.md §4.1 calls "publish by writing the
// magic word": once this returns, any attacher observing the registry sees
// a fully-initialized environment. In this single-process model the
// environment is only ever visible via the registry after create()
// returns, so GoLive is a no-op retained for API fidelity with spec.md §6.2
// (e_golive) and as the place a future multi-process backend would flip
// the magic word.
func (e *Environment) GoLive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicked {
		return errs.ErrPanic
	}
	return nil
}

// Detach decrements the refcount, per spec.md §4.1; if destroy is true and
// this was the last attacher, the environment is destroyed: its
// descriptors are marked destroyed, it leaves the registry and its
// sentinel file is removed. Unlike Remove, Detach neither marks the
// environment panicked nor unlinks its other region files.
func (e *Environment) Detach(r *Registry, destroy bool) error {
	e.mu.Lock()
	e.refcount--
	last := e.refcount <= 0
	e.mu.Unlock()

	if last && destroy {
		return e.destroy(r)
	}
	return nil
}

func (e *Environment) destroy(r *Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sr := range e.subRegions {
		sr.state = stateDestroyed
	}
	r.unregister(e.ID)
	sentinel := filepath.Join(e.Home, sentinelName)
	if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrIO, "region: remove sentinel %s: %v", sentinel, err)
	}
	log.Infof("region: destroyed environment %s (id=%d)", e.Home, e.ID)
	return nil
}

// Remove implements spec.md §4.1's destructive remove: tolerate a crashed
// creator by attaching, panicking the magic word, destroying every
// descriptor slot, then unlinking region files. If force is false and more
// than one attacher is live, BUSY (ErrAgain) is returned instead.
func Remove(r *Registry, home string, force bool) error {
	env := r.lookup(home)
	if env == nil {
		// No in-process attachment; still attempt filesystem cleanup of a
		// possibly crash-abandoned environment directory.
		return removeFiles(home)
	}

	env.mu.Lock()
	busy := !force && env.refcount > 1 && !env.panicked
	if busy {
		env.mu.Unlock()
		return errs.Wrap(errs.ErrAgain, "region: %s busy, refcount=%d", home, env.refcount)
	}
	env.panicked = true
	env.mu.Unlock()

	if err := env.destroy(r); err != nil {
		return err
	}
	return removeFiles(home)
}

// removeFiles unlinks numbered region files (__db.NNN) and lingering queue
// extents, per spec.md §6.3's persisted-state layout.
func removeFiles(home string) error {
	entries, err := os.ReadDir(home)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.ErrIO, "region: readdir %s: %v", home, err)
	}
	for _, ent := range entries {
		name := ent.Name()
		if matchesRegionFile(name) || matchesExtentFile(name) {
			_ = os.Remove(filepath.Join(home, name))
		}
	}
	return nil
}

func matchesRegionFile(name string) bool {
	return len(name) > 5 && name[:5] == "__db."
}

func matchesExtentFile(name string) bool {
	return len(name) > 6 && name[:6] == "__dbq."
}

// AttachSubRegion implements spec.md §4.1's r_attach: create or join a
// sub-region of the given type and size, returning its descriptor with a
// live allocator.
func (e *Environment) AttachSubRegion(t SubRegionType, size uint32) (*SubRegion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicked {
		return nil, errs.ErrPanic
	}
	for _, sr := range e.subRegions {
		if sr.Type == t && sr.state == stateLive {
			return sr, nil
		}
	}
	sr := &SubRegion{
		ID:    e.nextSubRegionID,
		Type:  t,
		Size:  size,
		SegID: InvalidSegID,
		state: stateLive,
		Alloc: NewAllocator(size),
	}
	e.nextSubRegionID++
	e.subRegions = append(e.subRegions, sr)
	return sr, nil
}

// SubRegionByID looks up a descriptor by its stable id.
func (e *Environment) SubRegionByID(id uint32) (*SubRegion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sr := range e.subRegions {
		if sr.ID == id && sr.state == stateLive {
			return sr, true
		}
	}
	return nil, false
}

// SubRegionByType returns the first live sub-region of the given type.
func (e *Environment) SubRegionByType(t SubRegionType) (*SubRegion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sr := range e.subRegions {
		if sr.Type == t && sr.state == stateLive {
			return sr, true
		}
	}
	return nil, false
}

// DetachSubRegion implements r_detach: unmap and, if destroy is set,
// discard the descriptor slot.
func (e *Environment) DetachSubRegion(sr *SubRegion, destroy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if destroy {
		sr.state = stateDestroyed
	}
}

// Panicked reports whether this environment is poisoned (spec.md §7).
func (e *Environment) Panicked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.panicked
}

// Panic marks the environment poisoned; every subsequent call against it
// must fail fast with ErrPanic, per spec.md §7's propagation policy.
func (e *Environment) Panic() {
	e.mu.Lock()
	e.panicked = true
	e.mu.Unlock()
	log.Errorf("region: environment %s (id=%d) panicked", e.Home, e.ID)
}

// Clock returns the environment's time source.
func (e *Environment) Clock() clock.Clock { return e.clock }
