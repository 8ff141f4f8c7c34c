package chunksum

import (
	"bytes"
	"fmt"
)

//Status classifies a scanned file against the previous manifest
type Status int

const (
	//StatusNew means the previous manifest has no entry for the path
	StatusNew Status = iota

	//StatusChanged means the path existed before with a different
	//file digest
	StatusChanged

	//StatusUnchanged means the path existed before with an equal
	//file digest
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	case StatusUnchanged:
		return "unchanged"
	}

	return "unknown"
}

//Reconciler compares freshly computed entries against a previously
//loaded manifest and keeps two result sets: the full current manifest
//and the incremental one holding only new and changed entries. It is
//fed by the single goroutine draining the worker pool, the previous
//manifest is only ever read
type Reconciler struct {
	prev      map[string]*Entry
	full      []*Entry
	incr      []*Entry
	New       int
	Changed   int
	Unchanged int
}

//NewReconciler prepares reconciliation against prev, which may be nil
//when there is no previous manifest (every file then classifies as
//new). It fails with ErrAlgorithmMismatch when prev was produced with
//a different algorithm, digests of different algorithms must never be
//compared
func NewReconciler(alg *Alg, prev *Manifest) (rc *Reconciler, err error) {
	rc = &Reconciler{prev: map[string]*Entry{}}
	if prev == nil {
		return rc, nil
	}

	if !alg.Equal(prev.Alg) {
		return nil, fmt.Errorf("%w: previous manifest was produced with '%s', this run uses '%s'", ErrAlgorithmMismatch, prev.Alg, alg)
	}

	for _, e := range prev.Entries {
		rc.prev[e.Path] = e
	}

	return rc, nil
}

//Add classifies one computed entry and records it in the result sets
func (rc *Reconciler) Add(e *Entry) Status {
	rc.full = append(rc.full, e)

	p, ok := rc.prev[e.Path]
	if !ok {
		rc.incr = append(rc.incr, e)
		rc.New++
		return StatusNew
	}

	if bytes.Equal(p.Sum, e.Sum) {
		rc.Unchanged++
		return StatusUnchanged
	}

	rc.incr = append(rc.incr, e)
	rc.Changed++
	return StatusChanged
}

//Full returns every entry of the current scan
func (rc *Reconciler) Full() []*Entry {
	return rc.full
}

//Incremental returns only the new and changed entries, the diff of this
//scan against the previous manifest
func (rc *Reconciler) Incremental() []*Entry {
	return rc.incr
}
