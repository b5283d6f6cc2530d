package store

import (
	"context"
	"maps"
	"sync"

	"github.com/metdatasystem/orders-relay/internal/relay"
)

// Memory is an in-process store. Items are kept per table and keyed by their identity attributes.
type Memory struct {
	mu         sync.Mutex
	attributes []string
	tables     map[string]map[string]relay.Payload
	puts       int
}

func NewMemory(attributes ...string) *Memory {
	return &Memory{
		attributes: attributes,
		tables:     map[string]map[string]relay.Payload{},
	}
}

func (m *Memory) Put(ctx context.Context, table string, item relay.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := itemKey(item, m.attributes)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.tables[table]
	if !ok {
		items = map[string]relay.Payload{}
		m.tables[table] = items
	}
	items[key] = maps.Clone(item)
	m.puts++

	return nil
}

// Returns the item stored under key, if any.
func (m *Memory) Get(table string, key string) (relay.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.tables[table][key]
	return item, ok
}

// Returns a copy of every item in the table.
func (m *Memory) Items(table string) map[string]relay.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.tables[table])
}

// Returns the number of writes accepted, including overwrites.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.puts
}
