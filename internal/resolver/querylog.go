package resolver

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// QueryLogEntry records one resolved query, mirroring
// internal/dnsproxy/querylog.go's entry shape trimmed to the fields the
// resolver pipeline actually produces (no list/ad-blocking concern in
// this spec).
type QueryLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Status    string    `json:"status"` // "authoritative", "cached", "forwarded", "failed"
	LatencyMS float64   `json:"latency_ms"`
}

var queryLogBucket = []byte("querylog")

// QueryLog is an in-memory ring buffer over the most recent entries,
// backed by a bbolt bucket so the log survives a restart. Adapted from
// internal/dnsproxy/querylog.go's ring buffer and subscriber-channel
// idiom; the teacher's version never persisted entries to disk, so this
// carries the same in-memory shape but mirrors every Add into bbolt,
// trimming the oldest persisted entry once the bucket exceeds capacity.
type QueryLog struct {
	mu       sync.RWMutex
	entries  []QueryLogEntry
	capacity int
	head     int
	count    int

	db     *bbolt.DB
	nextSeq uint64

	subMu  sync.RWMutex
	subs   map[int]chan QueryLogEntry
	nextID int
}

// OpenQueryLog opens (creating if absent) the bbolt database at path and
// returns a QueryLog backed by it, replaying up to capacity of the most
// recent persisted entries into the in-memory ring.
func OpenQueryLog(path string, capacity int) (*QueryLog, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("resolver: opening query log db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queryLogBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("resolver: creating query log bucket: %w", err)
	}

	q := &QueryLog{
		entries:  make([]QueryLogEntry, capacity),
		capacity: capacity,
		db:       db,
		subs:     make(map[int]chan QueryLogEntry),
	}
	if err := q.replay(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// replay loads the most recent persisted entries (up to capacity) back
// into the in-memory ring on open, so Recent() reflects history across a
// restart.
func (q *QueryLog) replay() error {
	return q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queryLogBucket)
		c := b.Cursor()

		var keys [][]byte
		var vals [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
			vals = append(vals, append([]byte(nil), v...))
		}
		if len(keys) > q.capacity {
			keys = keys[len(keys)-q.capacity:]
			vals = vals[len(vals)-q.capacity:]
		}
		for i, v := range vals {
			var entry QueryLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			q.entries[i%q.capacity] = entry
			q.head = (i + 1) % q.capacity
			if q.count < q.capacity {
				q.count++
			}
		}
		if len(keys) > 0 {
			q.nextSeq = binary.BigEndian.Uint64(keys[len(keys)-1]) + 1
		}
		return nil
	})
}

// Add appends an entry to the ring, persists it to bbolt, and notifies
// subscribers (non-blocking, matching the teacher's drop-if-slow policy).
func (q *QueryLog) Add(entry QueryLogEntry) {
	q.mu.Lock()
	q.entries[q.head] = entry
	q.head = (q.head + 1) % q.capacity
	if q.count < q.capacity {
		q.count++
	}
	seq := q.nextSeq
	q.nextSeq++
	q.mu.Unlock()

	if q.db != nil {
		_ = q.persist(seq, entry)
	}

	q.subMu.RLock()
	for _, ch := range q.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	q.subMu.RUnlock()
}

func (q *QueryLog) persist(seq uint64, entry QueryLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queryLogBucket)
		if err := b.Put(key, payload); err != nil {
			return err
		}
		if n := b.Stats().KeyN; n > q.capacity {
			c := b.Cursor()
			for i := 0; i < n-q.capacity; i++ {
				k, _ := c.First()
				if k == nil {
					break
				}
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Recent returns the most recent n entries, newest first.
func (q *QueryLog) Recent(n int) []QueryLogEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || q.count == 0 {
		return nil
	}
	if n > q.count {
		n = q.count
	}

	result := make([]QueryLogEntry, n)
	for i := 0; i < n; i++ {
		idx := (q.head - 1 - i + q.capacity) % q.capacity
		result[i] = q.entries[idx]
	}
	return result
}

// Subscribe returns a channel that receives new query log entries as
// they're added.
func (q *QueryLog) Subscribe(bufSize int) (int, chan QueryLogEntry) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	id := q.nextID
	q.nextID++
	ch := make(chan QueryLogEntry, bufSize)
	q.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (q *QueryLog) Unsubscribe(id int) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	if ch, ok := q.subs[id]; ok {
		close(ch)
		delete(q.subs, id)
	}
}

// Count returns the number of entries currently held in the ring.
func (q *QueryLog) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.count
}

// Close releases the underlying bbolt database.
func (q *QueryLog) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}
