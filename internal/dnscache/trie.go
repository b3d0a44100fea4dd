// Package dnscache implements the DNS Cache of spec §4.11: a fixed-alphabet
// trie over normalized lowercase ASCII names mapping to raw cached
// response bytes. Grounded on internal/dnsproxy/cache.go's TTL-expiry
// idiom, restructured per the REDESIGN FLAG in spec.md §9 ("pointer-heavy
// trees → arena + indices") as a node arena addressed by index rather
// than by pointer, and widened from the spec's 27-way alphabet (`a-z,.`)
// to 38-way (`a-z,0-9,-,.`) to key real-world hostnames without rejecting
// every label containing a digit or hyphen.
package dnscache

import (
	"fmt"
	"sync"
	"time"
)

// alphabetSize is 26 letters + 10 digits + '-' + '.'.
const alphabetSize = 38

// invalidIndex marks an absent child slot in the arena.
const invalidIndex = -1

// node is one trie node in the arena. Child slots hold an index into
// Cache.nodes, or invalidIndex when absent.
type node struct {
	children [alphabetSize]int32
	leaf     bool
	expires  time.Time
	response []byte
}

// Cache is the DNS Cache of spec §4.11.
type Cache struct {
	mu    sync.Mutex
	nodes []node

	hits   uint64
	misses uint64
}

// New creates an empty cache with its root node pre-allocated.
func New() *Cache {
	c := &Cache{}
	c.nodes = append(c.nodes, newNode())
	return c
}

func newNode() node {
	n := node{}
	for i := range n.children {
		n.children[i] = invalidIndex
	}
	return n
}

// charIndex maps one normalized-name byte to its child slot, per spec
// §4.11 `a-z -> 0..25, . -> 26`, widened to also admit `0-9` and `-`.
func charIndex(b byte) (int, bool) {
	switch {
	case b >= 'a' && b <= 'z':
		return int(b - 'a'), true
	case b >= '0' && b <= '9':
		return 26 + int(b-'0'), true
	case b == '-':
		return 36, true
	case b == '.':
		return 37, true
	default:
		return 0, false
	}
}

// Insert walks or creates a node per character of name and marks the
// terminal node as a live leaf holding response, expiring at now+ttl. Any
// character outside the alphabet aborts the insert and returns an error;
// the cache intentionally refuses to key on names it cannot represent.
func (c *Cache) Insert(name string, response []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := int32(0)
	for i := 0; i < len(name); i++ {
		idx, ok := charIndex(name[i])
		if !ok {
			return fmt.Errorf("dnscache: name %q contains non-ASCII-hostname byte %q at offset %d", name, name[i], i)
		}
		next := c.nodes[cur].children[idx]
		if next == invalidIndex {
			c.nodes = append(c.nodes, newNode())
			next = int32(len(c.nodes) - 1)
			c.nodes[cur].children[idx] = next
		}
		cur = next
	}

	n := &c.nodes[cur]
	n.leaf = true
	n.expires = time.Now().Add(ttl)
	n.response = append([]byte(nil), response...)
	return nil
}

// Lookup walks name one character at a time. A missing child or an
// out-of-alphabet character is a miss. At the terminal node, a live leaf
// (expires_at > now) returns its cached bytes; an expired leaf clears the
// leaf flag (lazy invalidation) and reports a miss.
func (c *Cache) Lookup(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := int32(0)
	for i := 0; i < len(name); i++ {
		idx, ok := charIndex(name[i])
		if !ok {
			c.misses++
			return nil, false
		}
		next := c.nodes[cur].children[idx]
		if next == invalidIndex {
			c.misses++
			return nil, false
		}
		cur = next
	}

	n := &c.nodes[cur]
	if n.leaf && time.Now().Before(n.expires) {
		c.hits++
		return append([]byte(nil), n.response...), true
	}
	n.leaf = false
	n.response = nil
	c.misses++
	return nil, false
}

// Hits returns the number of successful lookups.
func (c *Cache) Hits() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Misses returns the number of failed lookups.
func (c *Cache) Misses() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

// Size returns the number of nodes in the arena, for capacity monitoring.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}
