package qam

import "fmt"

// RecordFlag mirrors the per-record validity bits qam_vrfy_* checks,
// spec.md §4.7: a record slot may carry no flags, QAM_VALID alone, or
// QAM_VALID | QAM_SET; QAM_SET without QAM_VALID, or any other bit, is
// reported.
type RecordFlag uint8

const (
	FlagValid RecordFlag = 1 << iota
	FlagSet
)

const validMask = FlagValid | FlagSet

// Problem is one verifier finding.
type Problem struct {
	Kind string
	Detail string
}

func (p Problem) String() string { return fmt.Sprintf("%s: %s", p.Kind, p.Detail) }

// PageRecord is one fixed-length slot on a queue data page, the unit
// qam_vrfy_* walks and validates.
type PageRecord struct {
	Flags RecordFlag
}

// DataPage is one page of fixed-length records the verifier walks.
type DataPage struct {
	Pgno    uint32
	Records []PageRecord
}

// VerifyMeta cross-checks the meta page fields spec.md §4.7 names:
// record size must fit inside a page, and first/cur recno must be
// internally consistent.
func VerifyMeta(m Meta) []Problem {
	var problems []Problem
	if m.ReLen == 0 {
		problems = append(problems, Problem{"meta", "re_len is zero"})
	}
	if m.RecPage == 0 {
		problems = append(problems, Problem{"meta", "rec_page is zero"})
	}
	if m.PageSize > 0 && m.ReLen > 0 && m.RecPage > 0 {
		if m.ReLen*m.RecPage > m.PageSize {
			problems = append(problems, Problem{"meta", fmt.Sprintf(
				"re_len*rec_page (%d) exceeds page size (%d)", m.ReLen*m.RecPage, m.PageSize)})
		}
	}
	if m.CurRecno < m.FirstRecno {
		problems = append(problems, Problem{"meta", fmt.Sprintf(
			"cur_recno (%d) precedes first_recno (%d)", m.CurRecno, m.FirstRecno)})
	}
	return problems
}

// VerifyPage checks that each record on a single data page carries no
// flags, QAM_VALID, or QAM_VALID|QAM_SET.
func VerifyPage(p DataPage) []Problem {
	var problems []Problem
	for i, r := range p.Records {
		if r.Flags != 0 && r.Flags != validMask && r.Flags != FlagValid {
			problems = append(problems, Problem{"record", fmt.Sprintf(
				"page %d record %d has invalid flag combination %02x", p.Pgno, i, r.Flags)})
		}
	}
	return problems
}

// OrphanExtents reports extents present on disk (per existsFn) but
// outside [firstExtent, lastExtent], spec.md §4.7's "extent files present
// on disk but outside [first_extent, last_extent] are reported as
// orphans".
func OrphanExtents(dbName string, firstExtent, lastExtent uint32, candidates []uint32, existsFn func(path string) bool) []Problem {
	var problems []Problem
	for _, e := range candidates {
		if e >= firstExtent && e <= lastExtent {
			continue
		}
		if existsFn(ExtentFileName(dbName, e)) {
			problems = append(problems, Problem{"extent", fmt.Sprintf(
				"extent %d exists outside range [%d,%d]", e, firstExtent, lastExtent)})
		}
	}
	return problems
}

// WalkQueue implements qam_vrfy_walkqueue, spec.md §6.2: visit every
// reachable data page and invoke callback, plus (when salvaging)
// unreachable extent pages too. fetch returns ok=false for a page that
// cannot be read at all (distinct from a page that is simply empty).
func WalkQueue(firstPgno, lastPgno uint32, salvage bool, reachable func(pgno uint32) bool, fetch func(pgno uint32) (DataPage, bool), callback func(DataPage) []Problem) []Problem {
	var problems []Problem
	for pgno := firstPgno; pgno <= lastPgno; pgno++ {
		if !salvage && !reachable(pgno) {
			continue
		}
		page, ok := fetch(pgno)
		if !ok {
			problems = append(problems, Problem{"page", fmt.Sprintf("page %d unreadable", pgno)})
			continue
		}
		problems = append(problems, callback(page)...)
	}
	return problems
}
