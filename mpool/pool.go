package mpool

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
)

var log = logging.Named("mpool")

// nbucketsPerCache is fixed rather than computed from cache size; the
// teacher's LRU (buffer_lru.go) similarly fixes its young/old split
// thresholds rather than deriving them from pool size.
const nbucketsPerCache = 128

// MPool is one cache partition (spec.md §3.3's "MPOOL"): a hash-bucket
// array, an eviction cursor, the LRU priority counter, and statistics.
type MPool struct {
	buckets     []*bucket
	lastChecked uint32 // eviction sweep cursor, advanced by memp_alloc
	lruCounter  uint64 // monotonically advancing, see nextPriority

	pages     int32 // current BH count in this partition
	maxPages  int32

	stats Stats
}

func newMPool(maxPages int32) *MPool {
	mp := &MPool{
		buckets:  make([]*bucket, nbucketsPerCache),
		maxPages: maxPages,
	}
	for i := range mp.buckets {
		mp.buckets[i] = newBucket()
	}
	return mp
}

func (mp *MPool) nextPriority() uint64 {
	return atomic.AddUint64(&mp.lruCounter, 1)
}

// Pool is the top-level buffer pool: one or more MPool cache partitions
// plus the registered files and their process-local page converters
// (spec.md §4.2.6).
type Pool struct {
	mu sync.RWMutex

	caches   []*MPool
	files    map[uint64]*MPOOLFile
	nextFile uint64

	registrations map[int]PageConverter // by ftype, spec.md §4.2.6
	dbFtype       int                   // the reserved "DB access-method pair" slot

	handles map[uint64][]*DBMpoolFile // open process-local handles, by mfID

	pageSize uint32

	logFlusher LogFlusher // WAL collaborator, see flush.go
	lsnOf      LSNReader
}

// SetLogFlusher wires the WAL collaborator spec.md §4.2.4 requires: before
// writing a page carrying a logged LSN, the log must be durable to at
// least that LSN.
func (p *Pool) SetLogFlusher(f LogFlusher, reader LSNReader) {
	p.logFlusher = f
	p.lsnOf = reader
}

func (p *Pool) fileByID(id uint64) (*MPOOLFile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mfp, ok := p.files[id]
	return mfp, ok
}

// findWritableHandle returns an already-open handle on mfp that can be
// written through. If only read-only handles exist, it attempts the
// in-place upgrade spec.md §4.2.4 describes: reopen the file writable and
// swap the descriptor. On failure the handle is marked DBMFUpgradeFail,
// the MPOOLFile is marked read-only, and ErrPerm is returned, matching spec.md §7's PERM propagation.
func (p *Pool) findWritableHandle(mfp *MPOOLFile) (*DBMpoolFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var readOnly *DBMpoolFile
	for _, d := range p.handles[mfp.ID] {
		if !d.readOnly() {
			return d, nil
		}
		readOnly = d
	}
	if readOnly == nil {
		return nil, errs.Wrap(errs.ErrPerm, "mpool: no open handle on %s", mfp.Path)
	}

	f, err := os.OpenFile(mfp.Path, os.O_RDWR, 0o644)
	if err != nil {
		mfp.mu.Lock()
		mfp.flags |= mfReadOnly
		mfp.mu.Unlock()
		readOnly.flags |= DBMFUpgradeFail
		return nil, errs.Wrap(errs.ErrPerm, "mpool: upgrade %s to writable: %v", mfp.Path, err)
	}
	readOnly.file = f
	readOnly.flags &^= DBMFReadOnly
	readOnly.flags |= DBMFUpgrade
	return readOnly, nil
}

func (p *Pool) registerHandle(d *DBMpoolFile) {
	p.mu.Lock()
	p.handles[d.mfp.ID] = append(p.handles[d.mfp.ID], d)
	p.mu.Unlock()
}

func (p *Pool) unregisterHandle(d *DBMpoolFile) {
	p.mu.Lock()
	hs := p.handles[d.mfp.ID]
	for i, h := range hs {
		if h == d {
			p.handles[d.mfp.ID] = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Config collects the sizing knobs spec.md §3.3/§4.2 leaves to the
// environment's configuration.
type Config struct {
	PageSize  uint32
	NumCaches int
	// MaxPagesPerCache bounds how many BHs one partition may hold before
	// memp_alloc must evict (0 means "effectively unbounded", useful for
	// tests).
	MaxPagesPerCache int32
}

// NewPool constructs a buffer pool with the given number of cache
// partitions, matching spec.md §4.2.1 step 2's "n_cache = hash(...) mod
// ncaches" partitioning scheme.
func NewPool(cfg Config) *Pool {
	if cfg.NumCaches <= 0 {
		cfg.NumCaches = 1
	}
	p := &Pool{
		caches:        make([]*MPool, cfg.NumCaches),
		files:         make(map[uint64]*MPOOLFile),
		registrations: make(map[int]PageConverter),
		handles:       make(map[uint64][]*DBMpoolFile),
		pageSize:      cfg.PageSize,
	}
	for i := range p.caches {
		p.caches[i] = newMPool(cfg.MaxPagesPerCache)
	}
	return p
}

func hashKey(mfID uint64, pgno uint32) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint64(b[0:8], mfID)
	binary.LittleEndian.PutUint32(b[8:12], pgno)
	return xxhash.Checksum64(b[:])
}

func (p *Pool) cacheFor(mfID uint64, pgno uint32) *MPool {
	h := hashKey(mfID, pgno)
	return p.caches[h%uint64(len(p.caches))]
}

func (p *Pool) bucketFor(mp *MPool, mfID uint64, pgno uint32) *bucket {
	h := hashKey(mfID, pgno)
	return mp.buckets[h%uint64(len(mp.buckets))]
}

// CreateFile registers a brand-new data file with the pool and opens it
// for read/write, implementing the "fcreate" entry of spec.md §6.2.
func (p *Pool) CreateFile(path string, pageSize uint32) (*DBMpoolFile, error) {
	if pageSize == 0 {
		pageSize = p.pageSize
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "mpool: create %s: %v", path, err)
	}
	p.mu.Lock()
	id := p.nextFile
	p.nextFile++
	mfp := newMPOOLFile(id, path, pageSize)
	p.files[id] = mfp
	p.mu.Unlock()

	mfp.mu.Lock()
	mfp.mfpCount++
	mfp.file = f
	mfp.mu.Unlock()

	d := &DBMpoolFile{mfp: mfp, file: f}
	p.registerHandle(d)
	return d, nil
}

// OpenFile opens an existing file and joins (or creates) its MPOOLFile
// descriptor, implementing "fopen" of spec.md §6.2. flags carries
// DBMFReadOnly when the caller only intends to read.
func (p *Pool) OpenFile(path string, pageSize uint32, flags DBMpoolFileFlag) (*DBMpoolFile, error) {
	if pageSize == 0 {
		pageSize = p.pageSize
	}
	openFlags := os.O_RDWR
	if flags&DBMFReadOnly != 0 {
		openFlags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, openFlags, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "mpool: open %s: %v", path, err)
	}

	p.mu.Lock()
	var mfp *MPOOLFile
	abs, _ := filepath.Abs(path)
	for _, cand := range p.files {
		candAbs, _ := filepath.Abs(cand.Path)
		if candAbs == abs {
			mfp = cand
			break
		}
	}
	if mfp == nil {
		id := p.nextFile
		p.nextFile++
		mfp = newMPOOLFile(id, path, pageSize)
		if fi, statErr := f.Stat(); statErr == nil {
			mfp.LastPgno = uint32(fi.Size() / int64(pageSize))
			mfp.OrigLastPgno = mfp.LastPgno
		}
		p.files[id] = mfp
	}
	p.mu.Unlock()

	mfp.mu.Lock()
	mfp.mfpCount++
	if flags&DBMFReadOnly != 0 {
		mfp.flags |= mfReadOnly
	}
	mfp.mu.Unlock()

	d := &DBMpoolFile{mfp: mfp, file: f, flags: flags}
	p.registerHandle(d)
	return d, nil
}

// CloseFile closes a process-local handle; the MPOOLFile itself is
// discarded only once mfpCount and blockCount both reach zero, per spec.md
// §3.3's invariant.
func (p *Pool) CloseFile(d *DBMpoolFile) error {
	d.mfp.mu.Lock()
	d.mfp.mfpCount--
	discard := d.mfp.mfpCount == 0 && d.mfp.blockCount == 0
	d.mfp.mu.Unlock()

	p.unregisterHandle(d)

	if err := d.file.Close(); err != nil {
		return errs.Wrap(errs.ErrIO, "mpool: close %s: %v", d.mfp.Path, err)
	}
	if discard {
		p.mu.Lock()
		delete(p.files, d.mfp.ID)
		p.mu.Unlock()
	}
	return nil
}

// Register installs a process-local pgin/pgout converter keyed by ftype,
// spec.md §4.2.6. ftype 0 is the reserved DB access-method slot and may
// only be registered once, at environment-create time.
func (p *Pool) Register(ftype int, conv PageConverter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ftype == p.dbFtype {
		if _, exists := p.registrations[ftype]; exists {
			return errs.Wrap(errs.ErrInvalidArgument, "mpool: ftype %d already registered", ftype)
		}
	}
	p.registrations[ftype] = conv
	return nil
}

// AttachConverter binds a registered ftype's converter to a specific file,
// so subsequent reads/writes of that file run it as pgin/pgout.
func (p *Pool) AttachConverter(mfp *MPOOLFile, ftype int) error {
	p.mu.RLock()
	conv, ok := p.registrations[ftype]
	p.mu.RUnlock()
	if !ok {
		return errs.Wrap(errs.ErrInvalidArgument, "mpool: ftype %d not registered", ftype)
	}
	mfp.mu.Lock()
	mfp.converter = conv
	mfp.mu.Unlock()
	return nil
}

// NameOp implements spec.md §4.2.7: rename updates path_off in place,
// remove marks the file DEADFILE so memp_bhwrite discards rather than
// writes it and the allocator can free its buffers without I/O.
type NameOp int

const (
	OpRename NameOp = iota
	OpRemove
)

func (p *Pool) NameOp(oldPath, newPath string, op NameOp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mfp := range p.files {
		if mfp.Path != oldPath {
			continue
		}
		mfp.mu.Lock()
		switch op {
		case OpRename:
			mfp.Path = newPath
		case OpRemove:
			mfp.flags |= mfDeadFile
		}
		mfp.mu.Unlock()
	}
	if op == OpRename {
		return os.Rename(oldPath, newPath)
	}
	return nil
}
