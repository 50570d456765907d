package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// revisionDedupe remembers the last applied revision per source.
type revisionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newRevisionDedupe(size int) *revisionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &revisionDedupe{lru: c}
}

// stale reports whether rev is not newer than the last applied one.
func (d *revisionDedupe) stale(source string, rev uint64) bool {
	if rev == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(source)
	return ok && rev <= last
}

func (d *revisionDedupe) applied(source string, rev uint64) {
	if rev == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(source); ok && rev <= last {
		return
	}
	d.lru.Add(source, rev)
}
