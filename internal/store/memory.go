package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
)

type memDoc struct {
	version int64
	data    []byte
	fields  map[string]any
	seq     uint64
}

// Memory is an in-process Backend. Each kind is a map keyed by id.
type Memory struct {
	mu    sync.RWMutex
	kinds map[string]map[string]*memDoc
	seq   uint64
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{kinds: make(map[string]map[string]*memDoc)}
}

func (m *Memory) collection(kind string) map[string]*memDoc {
	c, ok := m.kinds[kind]
	if !ok {
		c = make(map[string]*memDoc)
		m.kinds[kind] = c
	}
	return c
}

func decodeFields(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fields, nil
}

// Insert implements Backend.
func (m *Memory) Insert(_ context.Context, kind, id string, data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(kind)
	if _, exists := c[id]; exists {
		return apperr.AlreadyExists(kind, id)
	}
	m.seq++
	c[id] = &memDoc{version: 1, data: data, fields: fields, seq: m.seq}
	return nil
}

// Update implements Backend.
func (m *Memory) Update(_ context.Context, kind, id string, expected int64, data []byte) (int64, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(kind)[id]
	if !ok {
		return 0, apperr.NotFound(kind, id)
	}
	if expected != AnyVersion && doc.version != expected {
		return 0, apperr.StateConflict(kind, id)
	}
	doc.version++
	doc.data = data
	doc.fields = fields
	return doc.version, nil
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, kind, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.kinds[kind][id]
	if !ok {
		return nil, apperr.NotFound(kind, id)
	}
	return &Document{ID: id, Version: doc.version, Data: doc.data}, nil
}

// List implements Backend. Documents come back in insertion order.
func (m *Memory) List(_ context.Context, kind string, filter Filter) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		seq uint64
		doc *Document
	}
	var hits []hit
	for id, doc := range m.kinds[kind] {
		if !matches(doc.fields, filter) {
			continue
		}
		hits = append(hits, hit{seq: doc.seq, doc: &Document{ID: id, Version: doc.version, Data: doc.data}})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]*Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func matches(fields map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := fields[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.kinds[kind]
	if _, ok := c[id]; !ok {
		return apperr.NotFound(kind, id)
	}
	delete(c, id)
	return nil
}

// DeleteWhere implements Backend.
func (m *Memory) DeleteWhere(_ context.Context, kind string, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, doc := range m.kinds[kind] {
		if matches(doc.fields, filter) {
			delete(m.kinds[kind], id)
			n++
		}
	}
	return n, nil
}

// Ping implements Backend.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Backend.
func (m *Memory) Close() error { return nil }
