package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu         sync.Mutex
	principals map[string]storage.PrincipalRecord
	groups     map[string]storage.GroupRecord
	operations map[string]storage.OperationRecord
	audit      []storage.AuditEvent

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		principals: make(map[string]storage.PrincipalRecord),
		groups:     make(map[string]storage.GroupRecord),
		operations: make(map[string]storage.OperationRecord),
		errors:     make(map[string]error),
		Size:       1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// --- Principals -------------------------------------------------------------

func (m *MockStore) PutPrincipal(rec storage.PrincipalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutPrincipal"); err != nil {
		return err
	}
	if rec.ID == "" || rec.Username == "" {
		return fmt.Errorf("principal requires id and username")
	}
	for id, p := range m.principals {
		if id != rec.ID && strings.EqualFold(p.Username, rec.Username) {
			return fmt.Errorf("username %q already taken", rec.Username)
		}
	}
	m.principals[rec.ID] = rec
	return nil
}

func (m *MockStore) GetPrincipal(id string) (*storage.PrincipalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetPrincipal"); err != nil {
		return nil, err
	}
	rec, ok := m.principals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (m *MockStore) GetPrincipalByUsername(username string) (*storage.PrincipalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetPrincipalByUsername"); err != nil {
		return nil, err
	}
	for _, p := range m.principals {
		if strings.EqualFold(p.Username, username) {
			cp := p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockStore) ListPrincipals() ([]storage.PrincipalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListPrincipals"); err != nil {
		return nil, err
	}
	result := make([]storage.PrincipalRecord, 0, len(m.principals))
	for _, p := range m.principals {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- Groups -----------------------------------------------------------------

func (m *MockStore) PutGroup(rec storage.GroupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutGroup"); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("group requires id")
	}
	rec.Members = append([]string(nil), rec.Members...)
	m.groups[rec.ID] = rec
	return nil
}

func (m *MockStore) GetGroup(id string) (*storage.GroupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetGroup"); err != nil {
		return nil, err
	}
	rec, ok := m.groups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	rec.Members = append([]string(nil), rec.Members...)
	return &rec, nil
}

func (m *MockStore) ListGroups() ([]storage.GroupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListGroups"); err != nil {
		return nil, err
	}
	result := make([]storage.GroupRecord, 0, len(m.groups))
	for _, g := range m.groups {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockStore) AddGroupMember(groupID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AddGroupMember"); err != nil {
		return err
	}
	if _, ok := m.principals[principalID]; !ok {
		return fmt.Errorf("principal %s: %w", principalID, storage.ErrNotFound)
	}
	rec, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	for _, mem := range rec.Members {
		if mem == principalID {
			return nil
		}
	}
	rec.Members = append(append([]string(nil), rec.Members...), principalID)
	m.groups[groupID] = rec
	return nil
}

func (m *MockStore) RemoveGroupMember(groupID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("RemoveGroupMember"); err != nil {
		return err
	}
	rec, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	kept := make([]string, 0, len(rec.Members))
	for _, mem := range rec.Members {
		if mem != principalID {
			kept = append(kept, mem)
		}
	}
	rec.Members = kept
	m.groups[groupID] = rec
	return nil
}

func (m *MockStore) GroupsFor(principalID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GroupsFor"); err != nil {
		return nil, err
	}
	var ids []string
	for id, g := range m.groups {
		for _, mem := range g.Members {
			if mem == principalID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Operations -------------------------------------------------------------

func (m *MockStore) PutOperation(rec storage.OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutOperation"); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("operation requires id")
	}
	m.operations[rec.ID] = rec
	return nil
}

func (m *MockStore) lookup(id string) (storage.GroupRecord, bool) {
	g, ok := m.groups[id]
	return g, ok
}

func (m *MockStore) GetOperation(id string) (*storage.OperationRecord, access.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetOperation"); err != nil {
		return nil, access.Operation{}, err
	}
	rec, ok := m.operations[id]
	if !ok {
		return nil, access.Operation{}, storage.ErrNotFound
	}
	return &rec, storage.AccessView(rec, m.lookup), nil
}

func (m *MockStore) ListOperations(filter access.Predicate) ([]storage.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListOperations"); err != nil {
		return nil, err
	}
	var result []storage.OperationRecord
	for _, rec := range m.operations {
		if filter.Eval(storage.AccessView(rec, m.lookup)) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MockStore) DeleteOperation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("DeleteOperation"); err != nil {
		return err
	}
	if _, ok := m.operations[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.operations, id)
	return nil
}

// --- Audit ------------------------------------------------------------------

func (m *MockStore) AppendAudit(ev storage.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AppendAudit"); err != nil {
		return err
	}
	m.audit = append(m.audit, ev)
	return nil
}

func (m *MockStore) ListAudit(limit int) ([]storage.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListAudit"); err != nil {
		return nil, err
	}
	var result []storage.AuditEvent
	for i := len(m.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.audit[i])
	}
	return result, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popError("Ping")
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
