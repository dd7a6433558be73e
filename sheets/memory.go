package sheets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used for dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tabs  map[string][][]string
	order []string

	// Fail, when set for an operation name ("TabNames", "CreateTab",
	// "GetValues", "UpdateValues", "AppendValues"), is returned by it.
	Fail map[string]error

	// Calls records operation names in order.
	Calls []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tabs: make(map[string][][]string), Fail: make(map[string]error)}
}

// Rows returns a copy of tab's rows.
func (m *MemoryStore) Rows(tab string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tabs[tab]
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// SetRows replaces tab's contents, creating it when needed.
func (m *MemoryStore) SetRows(tab string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tabs[tab]; !ok {
		m.order = append(m.order, tab)
	}
	m.tabs[tab] = rows
}

func (m *MemoryStore) begin(op string) error {
	m.Calls = append(m.Calls, op)
	return m.Fail[op]
}

func (m *MemoryStore) TabNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("TabNames"); err != nil {
		return nil, err
	}
	return append([]string(nil), m.order...), nil
}

func (m *MemoryStore) CreateTab(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateTab"); err != nil {
		return err
	}
	if _, ok := m.tabs[name]; ok {
		return fmt.Errorf("a sheet with the name %q already exists", name)
	}
	m.tabs[name] = nil
	m.order = append(m.order, name)
	return nil
}

func (m *MemoryStore) GetValues(_ context.Context, rng string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("GetValues"); err != nil {
		return nil, err
	}
	tab, _, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	rows, ok := m.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("unable to parse range: %s", rng)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (m *MemoryStore) UpdateValues(_ context.Context, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpdateValues"); err != nil {
		return err
	}
	tab, row, err := parseRange(rng)
	if err != nil {
		return err
	}
	if _, ok := m.tabs[tab]; !ok {
		return fmt.Errorf("unable to parse range: %s", rng)
	}
	if row == 0 {
		row = 1
	}
	for i, r := range rows {
		idx := row - 1 + i
		for len(m.tabs[tab]) <= idx {
			m.tabs[tab] = append(m.tabs[tab], nil)
		}
		m.tabs[tab][idx] = render(r)
	}
	return nil
}

func (m *MemoryStore) AppendValues(_ context.Context, rng string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("AppendValues"); err != nil {
		return err
	}
	tab, _, err := parseRange(rng)
	if err != nil {
		return err
	}
	if _, ok := m.tabs[tab]; !ok {
		return fmt.Errorf("unable to parse range: %s", rng)
	}
	for _, r := range rows {
		m.tabs[tab] = append(m.tabs[tab], render(r))
	}
	return nil
}

func render(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}
