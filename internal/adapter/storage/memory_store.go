package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stock-orders/internal/port"
)

// MemoryStore is a process-local DocumentStore. Batches are staged on copies
// and swapped in only when every operation succeeded.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]port.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]port.Document)}
}

func (m *MemoryStore) Get(ctx context.Context, ref port.DocRef) (port.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[ref.Path()]
	if !ok {
		return port.Document{}, fmt.Errorf("get %s: %w", ref, port.ErrNotFound)
	}
	return port.Document{Ref: doc.Ref, Data: cloneData(doc.Data)}, nil
}

func (m *MemoryStore) GetAll(ctx context.Context, q port.Query) ([]port.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	collPath := q.Collection.Path()
	var out []port.Document
	for _, doc := range m.docs {
		if doc.Ref.Coll.Path() != collPath || !matches(doc.Data, q.Where) {
			continue
		}
		out = append(out, port.Document{Ref: doc.Ref, Data: cloneData(doc.Data)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].Ref.ID < out[j].Ref.ID
		}
		c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, ref port.DocRef, data map[string]any) (string, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if err := m.Batch(ctx, []port.BatchOp{port.CreateOp(ref, data)}); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (m *MemoryStore) Update(ctx context.Context, ref port.DocRef, data map[string]any) error {
	return m.Batch(ctx, []port.BatchOp{port.UpdateOp(ref, data)})
}

func (m *MemoryStore) Delete(ctx context.Context, ref port.DocRef) error {
	return m.Batch(ctx, []port.BatchOp{port.DeleteOp(ref)})
}

func (m *MemoryStore) Increment(ctx context.Context, ref port.DocRef, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]*port.Document)
	if err := m.apply(staged, port.IncrementOp(ref, field, delta)); err != nil {
		return 0, err
	}
	m.commit(staged)
	v, _ := toInt64(m.docs[ref.Path()].Data[field])
	return v, nil
}

func (m *MemoryStore) Batch(ctx context.Context, ops []port.BatchOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// nil entries mark deletions
	staged := make(map[string]*port.Document)
	for i, op := range ops {
		if err := m.apply(staged, op); err != nil {
			return fmt.Errorf("batch op %d (%s %s): %w", i, op.Kind, op.Ref, err)
		}
	}
	m.commit(staged)
	return nil
}

func (m *MemoryStore) apply(staged map[string]*port.Document, op port.BatchOp) error {
	path := op.Ref.Path()
	current, exists := staged[path]
	if !exists {
		if doc, ok := m.docs[path]; ok {
			current = &port.Document{Ref: doc.Ref, Data: cloneData(doc.Data)}
		}
	}

	switch op.Kind {
	case port.OpCreate:
		if current != nil {
			return port.ErrAlreadyExists
		}
		data, err := port.Encode(op.Data)
		if err != nil {
			return err
		}
		staged[path] = &port.Document{Ref: op.Ref, Data: data}
	case port.OpUpdate:
		if current == nil {
			return port.ErrNotFound
		}
		data, err := port.Encode(op.Data)
		if err != nil {
			return err
		}
		for k, v := range data {
			if v == nil {
				delete(current.Data, k)
				continue
			}
			current.Data[k] = v
		}
		staged[path] = current
	case port.OpDelete:
		staged[path] = nil
	case port.OpIncrement:
		if current == nil {
			return port.ErrNotFound
		}
		v, ok := toInt64(current.Data[op.Field])
		if !ok && current.Data[op.Field] != nil {
			return fmt.Errorf("field %q is not numeric", op.Field)
		}
		current.Data[op.Field] = float64(v + op.Delta)
		staged[path] = current
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func (m *MemoryStore) commit(staged map[string]*port.Document) {
	for path, doc := range staged {
		if doc == nil {
			delete(m.docs, path)
			continue
		}
		m.docs[path] = *doc
	}
}

func matches(data map[string]any, filters []port.Filter) bool {
	for _, f := range filters {
		if compareValues(data[f.Field], normalize(f.Value)) != 0 {
			return false
		}
	}
	return true
}

// normalize maps filter values onto the JSON shapes stored in documents.
func normalize(v any) any {
	if n, ok := toInt64(v); ok {
		return float64(n)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	switch t := v.(type) {
	case string, bool, float64, nil:
		return t
	}
	return fmt.Sprint(v)
}

func compareValues(a, b any) int {
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, sa)
			tb, errB := time.Parse(time.RFC3339Nano, sb)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	if a == nil {
		sa = ""
	}
	if b == nil {
		sb = ""
	}
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(math.Round(n)), true
	case float32:
		return int64(math.Round(float64(n))), true
	}
	return 0, false
}

// cloneData deep-copies through a JSON-shaped value tree.
func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}
