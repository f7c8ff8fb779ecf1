// File: internal/evidence/evidence.go
// Description: In-memory, append-only evidence collection for one test run.
// Payloads stay in memory for the life of the run; callers hold opaque refs.

// Package evidence implements the run-scoped evidence sink. Every recorded
// item is immutable once stored and addressable by an opaque reference, so
// steps and the final report can point at evidence without carrying payloads.
package evidence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-qa/playprobe/api/schemas"
)

// RunLevel is the step index used for evidence not tied to any single step.
const RunLevel = -1

// Item is one recorded piece of evidence.
type Item struct {
	Ref        schemas.EvidenceRef
	StepIndex  int
	Kind       schemas.EvidenceKind
	Payload    []byte
	RecordedAt time.Time
}

// Collector is an append-only evidence store for a single run. It is safe
// for concurrent use.
type Collector struct {
	mu    sync.Mutex
	items []Item
	index map[schemas.EvidenceRef]int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{index: make(map[schemas.EvidenceRef]int)}
}

// Record stores a payload and returns its reference. The payload is copied,
// so callers may reuse their buffer. Use RunLevel as stepIndex for evidence
// that belongs to the run as a whole.
func (c *Collector) Record(stepIndex int, kind schemas.EvidenceKind, payload []byte) (schemas.EvidenceRef, error) {
	ref := schemas.EvidenceRef(uuid.NewString())

	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[ref] = len(c.items)
	c.items = append(c.items, Item{
		Ref:        ref,
		StepIndex:  stepIndex,
		Kind:       kind,
		Payload:    buf,
		RecordedAt: time.Now(),
	})
	return ref, nil
}

// Resolve returns the item behind a reference.
func (c *Collector) Resolve(ref schemas.EvidenceRef) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[ref]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Items returns a snapshot of everything recorded so far, in insertion order.
func (c *Collector) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Refs returns the references of all items recorded for the given step.
func (c *Collector) Refs(stepIndex int) []schemas.EvidenceRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []schemas.EvidenceRef
	for _, it := range c.items {
		if it.StepIndex == stepIndex {
			out = append(out, it.Ref)
		}
	}
	return out
}

// Len reports how many items have been recorded.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

var _ schemas.EvidenceSink = (*Collector)(nil)
