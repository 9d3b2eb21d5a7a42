package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookshelf/relmigrate/entity"
)

// MemoryStore keeps documents in process memory and enforces validators like a real
// store would. It backs tests and dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	// BeforeWrite, when set, is called for each batch; a returned error fails the write.
	BeforeWrite func(collection string, docs []entity.Document) error
	writes      int
}

type memoryCollection struct {
	schema  *Schema
	indexes map[string]Index
	docs    map[string]map[string]interface{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryStore) HasCollection(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryStore) CreateCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	m.collections[name] = newMemoryCollection()
	return nil
}

func newMemoryCollection() *memoryCollection {
	return &memoryCollection{indexes: make(map[string]Index), docs: make(map[string]map[string]interface{})}
}

func (m *MemoryStore) ApplyValidator(ctx context.Context, name string, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("collection %s does not exist", name)
	}
	c.schema = &schema
	return nil
}

func (m *MemoryStore) CreateIndex(ctx context.Context, name string, index Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("collection %s does not exist", name)
	}
	c.indexes[index.Name] = index
	return nil
}

// WriteBatch validates the whole batch before applying any of it. Collections are
// created implicitly, as document stores do.
func (m *MemoryStore) WriteBatch(ctx context.Context, collection string, docs []entity.Document) error {
	if m.BeforeWrite != nil {
		if err := m.BeforeWrite(collection, docs); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = newMemoryCollection()
		m.collections[collection] = c
	}
	contents := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content()
		if c.schema != nil {
			if err := validate(*c.schema, contents[i]); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrValidation, collection, doc.DocumentID(), err)
			}
		}
	}
	for i, doc := range docs {
		c.docs[doc.DocumentID()] = contents[i]
	}
	m.writes++
	return nil
}

func (m *MemoryStore) Drop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Documents returns a copy of the documents of a collection keyed by id.
func (m *MemoryStore) Documents(collection string) map[string]map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make(map[string]map[string]interface{})
	if c, ok := m.collections[collection]; ok {
		for id, doc := range c.docs {
			ret[id] = doc
		}
	}
	return ret
}

func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[collection]; ok {
		return len(c.docs)
	}
	return 0
}

// Writes returns the number of successful batches.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Indexes returns the names of the indexes of a collection.
func (m *MemoryStore) Indexes(collection string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	if c, ok := m.collections[collection]; ok {
		for name := range c.indexes {
			names = append(names, name)
		}
	}
	return names
}

func validate(schema Schema, doc map[string]interface{}) error {
	for _, f := range schema.Fields {
		v, ok := doc[f.Name]
		if !ok {
			return fmt.Errorf("field %s is missing", f.Name)
		}
		if err := checkType(f.Type, v); err != nil {
			return fmt.Errorf("field %s: %v", f.Name, err)
		}
		if s, isString := v.(string); isString && len([]rune(s)) < f.MinLength {
			return fmt.Errorf("field %s is shorter than %d", f.Name, f.MinLength)
		}
		if items, isArray := v.([]interface{}); isArray && f.Items != "" {
			for i, item := range items {
				if err := checkType(f.Items, item); err != nil {
					return fmt.Errorf("field %s[%d]: %v", f.Name, i, err)
				}
			}
		}
	}
	return nil
}

func checkType(t FieldType, v interface{}) error {
	switch t {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case TypeArray:
		if _, ok := v.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
	case TypeDatetime:
		switch val := v.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339Nano, val); err != nil {
				return fmt.Errorf("expected datetime: %v", err)
			}
		default:
			return fmt.Errorf("expected datetime, got %T", v)
		}
	}
	return nil
}
