package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// entry is the mutable queue record behind a File snapshot.
type entry struct {
	file File

	// attempt is bumped on every Pending->Compressing transition and on Reset.
	// Progress and results carrying an older attempt are dropped.
	attempt uint64

	// suggestionSeq is the sequence number of the latest suggestion request.
	suggestionSeq uint64
}

// queue is an arena keyed by id plus the insertion order.
// It is not safe for concurrent use; Pipeline guards it with its mutex.
type queue struct {
	entries map[string]*entry
	order   []string
}

func newQueue() queue {
	return queue{entries: make(map[string]*entry)}
}

func (q *queue) add(e *entry) {
	q.entries[e.file.ID] = e
	q.order = append(q.order, e.file.ID)
}

func (q *queue) get(id string) (*entry, bool) {
	e, ok := q.entries[id]
	return e, ok
}

func (q *queue) has(id string) bool {
	_, ok := q.entries[id]
	return ok
}

func (q *queue) remove(id string) bool {
	if _, ok := q.entries[id]; !ok {
		return false
	}
	delete(q.entries, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

func (q *queue) clear() int {
	n := len(q.order)
	q.entries = make(map[string]*entry)
	q.order = nil
	return n
}

func (q *queue) len() int {
	return len(q.order)
}

// each visits entries in insertion order.
func (q *queue) each(fn func(*entry)) {
	for _, id := range q.order {
		fn(q.entries[id])
	}
}

// idsWithStatus returns the ids of entries in status s, in insertion order.
func (q *queue) idsWithStatus(s Status) []string {
	var ids []string
	q.each(func(e *entry) {
		if e.file.Status == s {
			ids = append(ids, e.file.ID)
		}
	})
	return ids
}

// NewFileID derives a file id from name and modification time plus a random
// tie-breaker, so the same file admitted twice gets two ids.
func NewFileID(name string, modTime time.Time) string {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(modTime.UnixNano(), 10))

	tie := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatUint(h.Sum64(), 16) + "-" + tie
}
