package mpool

import (
	"os"
	"sync"
)

// mfFlag are the MPOOLFILE-level flags spec.md §3.3 names.
type mfFlag uint32

const (
	mfTemp mfFlag = 1 << iota
	mfDeadFile
	mfExtent
	mfReadOnly
	mfDirect
)

// PageConverter is the pgin/pgout collaborator contract, spec.md §6.1: a
// per-page-type hook that runs on read-in (pgin) or write-back (pgout),
// used here both for the DB access-method callback slot and for the
// compression converters wired in from the domain stack (lz4/snappy).
type PageConverter interface {
	// PgIn restores buf (as read from disk) into its in-memory form.
	PgIn(pgno uint32, buf []byte) error
	// PgOut converts buf (as held in cache) into its on-disk form.
	PgOut(pgno uint32, buf []byte) error
}

// MPOOLFile is the shared per-file descriptor (spec.md §3.3's MPOOLFILE):
// one per underlying file, referenced by every DB_MPOOLFILE handle and
// every BH caching one of its pages.
type MPOOLFile struct {
	mu sync.Mutex

	ID       uint64 // unique file id, also the bucket-hash key component
	Path     string
	PageSize uint32
	ClearLen uint32 // bytes to zero-fill when extending a page past EOF

	LastPgno     uint32
	OrigLastPgno uint32 // snapshot at open time, mmap validity boundary

	mfpCount   int32 // open DB_MPOOLFILE handles
	blockCount int32 // BHs in cache referencing this file

	flags mfFlag

	// LSNOff is the byte offset of the page LSN within the page body, or
	// -1 if this file type carries no LSN (spec.md §3.3). WAL flushing in
	// memp_bhwrite only applies when this is >= 0.
	LSNOff int64

	converter PageConverter // registered pgin/pgout pair, or nil

	file *os.File // the single writer-capable handle memp_bhwrite upgrades to
}

func newMPOOLFile(id uint64, path string, pageSize uint32) *MPOOLFile {
	return &MPOOLFile{
		ID:           id,
		Path:         path,
		PageSize:     pageSize,
		ClearLen:     pageSize,
		OrigLastPgno: 0,
		LSNOff:       -1,
	}
}

func (m *MPOOLFile) isDeadFile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags&mfDeadFile != 0
}

func (m *MPOOLFile) markDeadFile() {
	m.mu.Lock()
	m.flags |= mfDeadFile
	m.mu.Unlock()
}

func (m *MPOOLFile) isExtent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags&mfExtent != 0
}

// DBMpoolFileFlag are the per-handle flags spec.md §3.3 names.
type DBMpoolFileFlag uint32

const (
	DBMFReadOnly DBMpoolFileFlag = 1 << iota
	DBMFUpgrade
	DBMFUpgradeFail
	DBMFFlush
	DBMFMPFlush
)

// DBMpoolFile is one process handle onto an MPOOLFile (spec.md §3.3's
// DB_MPOOLFILE): carries the actual *os.File, per-handle flags, and a
// diagnostic pin counter.
type DBMpoolFile struct {
	mfp     *MPOOLFile
	file    *os.File
	flags   DBMpoolFileFlag
	pinned  int32 // diagnostic only
}

// MPOOLFile returns the shared file descriptor this handle is open on.
func (d *DBMpoolFile) MPOOLFile() *MPOOLFile { return d.mfp }

func (d *DBMpoolFile) readOnly() bool { return d.flags&DBMFReadOnly != 0 }
