package index

import (
	"context"
	"sync"
	"time"

	"github.com/starford/cookshelf/internal/checksum"
	"github.com/starford/cookshelf/internal/storage"
)

// DefaultWriteLogTTL bounds how long a recorded write waits for its
// file-system event.
const DefaultWriteLogTTL = 5 * time.Second

type ownWrite struct {
	seq     uint64
	sum     string // empty for removals
	removed bool
	at      time.Time
}

// WriteLog remembers store writes made by this process so that the watcher
// can tell them apart from edits made behind the server's back. Writes are
// keyed by file key (with extension) and matched by checksum, so an
// out-of-band edit that lands in the same window still gets through.
type WriteLog struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending map[string][]ownWrite
}

// NewWriteLog returns an empty log whose records expire after ttl.
func NewWriteLog(ttl time.Duration) *WriteLog {
	if ttl <= 0 {
		ttl = DefaultWriteLogTTL
	}
	return &WriteLog{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string][]ownWrite),
	}
}

// Wrote records that data is about to be written under fileKey. The
// returned token identifies the record for Forget.
func (l *WriteLog) Wrote(fileKey string, data []byte) uint64 {
	return l.record(fileKey, ownWrite{sum: checksum.Sum(data)})
}

// Removed records that fileKey is about to be removed.
func (l *WriteLog) Removed(fileKey string) uint64 {
	return l.record(fileKey, ownWrite{removed: true})
}

// Forget drops one record, e.g. after its write failed. Records of other
// writers to the same key are kept.
func (l *WriteLog) Forget(fileKey string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.pending[fileKey][:0]
	for _, w := range l.pending[fileKey] {
		if w.seq != token {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		delete(l.pending, fileKey)
		return
	}
	l.pending[fileKey] = kept
}

func (l *WriteLog) record(fileKey string, w ownWrite) uint64 {
	now := l.now()
	w.at = now

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, ws := range l.pending {
		if now.Sub(ws[len(ws)-1].at) > l.ttl {
			delete(l.pending, k)
		}
	}
	l.seq++
	w.seq = l.seq
	l.pending[fileKey] = append(l.pending[fileKey], w)
	return w.seq
}

// matchWrite reports whether data under fileKey is content this process
// wrote. A mismatch discards the key's records: the file has moved on.
func (l *WriteLog) matchWrite(fileKey string, data []byte) bool {
	sum := checksum.Sum(data)
	return l.match(fileKey, func(w ownWrite) bool {
		return !w.removed && w.sum == sum
	})
}

// matchRemove reports whether this process removed fileKey.
func (l *WriteLog) matchRemove(fileKey string) bool {
	return l.match(fileKey, func(w ownWrite) bool { return w.removed })
}

func (l *WriteLog) match(fileKey string, ok func(ownWrite) bool) bool {
	if l == nil {
		return false
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.pending[fileKey] {
		if now.Sub(w.at) <= l.ttl && ok(w) {
			return true
		}
	}
	delete(l.pending, fileKey)
	return false
}

// RecordWrites wraps store so that every write and removal through it is
// recorded in log before it reaches the store.
func RecordWrites(store storage.Store, log *WriteLog) storage.Store {
	return &recordingStore{Store: store, log: log}
}

type recordingStore struct {
	storage.Store
	log *WriteLog
}

func (s *recordingStore) Set(ctx context.Context, key string, content []byte) error {
	token := s.log.Wrote(key, content)
	if err := s.Store.Set(ctx, key, content); err != nil {
		s.log.Forget(key, token)
		return err
	}
	return nil
}

func (s *recordingStore) Create(ctx context.Context, key string, content []byte) error {
	token := s.log.Wrote(key, content)
	if err := s.Store.Create(ctx, key, content); err != nil {
		s.log.Forget(key, token)
		return err
	}
	return nil
}

func (s *recordingStore) Remove(ctx context.Context, key string) error {
	token := s.log.Removed(key)
	if err := s.Store.Remove(ctx, key); err != nil {
		s.log.Forget(key, token)
		return err
	}
	return nil
}
