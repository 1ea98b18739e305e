// Package storage - database and resource identity registry.
//
// What: Assigns the compact uint64 database/resource IDs the page store's
// PageReference uses, while keeping a stable external UUID per entry so
// operators and tooling can refer to a database or resource without
// knowing its internal numeric ID.
// How: A UUID per entry (for external identity) paired with a
// monotonically increasing uint64 (for the hot-path composite cache key),
// grounded on uuid_helpers.go's UUID plumbing.
package storage

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DatabaseEntry is one registered database.
type DatabaseEntry struct {
	ID   uint64
	UUID uuid.UUID
	Name string
}

// ResourceEntry is one registered resource (a document/table/tree) within
// a database.
type ResourceEntry struct {
	ID         uint64
	UUID       uuid.UUID
	DatabaseID uint64
	Name       string
}

// Registry assigns and looks up the numeric IDs backing PageReference's
// DatabaseID/ResourceID fields. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	nextDatabaseID uint64
	nextResourceID uint64

	databasesByName map[string]*DatabaseEntry
	databasesByID   map[uint64]*DatabaseEntry

	resourcesByName map[uint64]map[string]*ResourceEntry // databaseID -> name -> entry
	resourcesByID   map[uint64]*ResourceEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		databasesByName: make(map[string]*DatabaseEntry),
		databasesByID:   make(map[uint64]*DatabaseEntry),
		resourcesByName: make(map[uint64]map[string]*ResourceEntry),
		resourcesByID:   make(map[uint64]*ResourceEntry),
	}
}

// CreateDatabase registers a new database named name, returning an error
// if the name is already taken.
func (r *Registry) CreateDatabase(name string) (*DatabaseEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.databasesByName[name]; exists {
		return nil, fmt.Errorf("storage: database %q already exists", name)
	}
	r.nextDatabaseID++
	entry := &DatabaseEntry{ID: r.nextDatabaseID, UUID: uuid.New(), Name: name}
	r.databasesByName[name] = entry
	r.databasesByID[entry.ID] = entry
	return entry, nil
}

// OpenDatabase returns the existing database entry named name, creating
// and registering one with a freshly assigned ID and UUID if this is the
// first time name has been opened.
func (r *Registry) OpenDatabase(name string) (*DatabaseEntry, error) {
	if e, ok := r.Database(name); ok {
		return e, nil
	}
	e, err := r.CreateDatabase(name)
	if err != nil {
		// Lost a race with a concurrent first-open of the same name; the
		// winner's entry is just as valid for this caller's purposes.
		if existing, ok := r.Database(name); ok {
			return existing, nil
		}
		return nil, err
	}
	return e, nil
}

// OpenResource returns the existing resource entry named name under
// databaseID, creating and registering one with a freshly assigned ID and
// UUID if this is the first time name has been opened within that
// database.
func (r *Registry) OpenResource(databaseID uint64, name string) (*ResourceEntry, error) {
	if e, ok := r.Resource(databaseID, name); ok {
		return e, nil
	}
	e, err := r.CreateResource(databaseID, name)
	if err != nil {
		if existing, ok := r.Resource(databaseID, name); ok {
			return existing, nil
		}
		return nil, err
	}
	return e, nil
}

// Database looks up a database by name.
func (r *Registry) Database(name string) (*DatabaseEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.databasesByName[name]
	return e, ok
}

// DatabaseByID looks up a database by its numeric ID.
func (r *Registry) DatabaseByID(id uint64) (*DatabaseEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.databasesByID[id]
	return e, ok
}

// DatabaseByUUIDString looks up a database by its external UUID, given as
// the canonical string form operators and tooling pass around instead of
// the internal numeric ID.
func (r *Registry) DatabaseByUUIDString(s string) (*DatabaseEntry, bool) {
	id, err := ParseUUID(s)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.databasesByID {
		if e.UUID == id {
			return e, true
		}
	}
	return nil, false
}

// Bytes returns the 16-byte wire representation of a database's external
// UUID, suitable for embedding in an on-disk or wire record.
func (e *DatabaseEntry) Bytes() []byte { return UUIDToBytes(e.UUID) }

// Bytes returns the 16-byte wire representation of a resource's external
// UUID.
func (e *ResourceEntry) Bytes() []byte { return UUIDToBytes(e.UUID) }

// CreateResource registers a new resource named name under databaseID.
func (r *Registry) CreateResource(databaseID uint64, name string) (*ResourceEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.databasesByID[databaseID]; !ok {
		return nil, fmt.Errorf("storage: unknown database id %d", databaseID)
	}
	if r.resourcesByName[databaseID] == nil {
		r.resourcesByName[databaseID] = make(map[string]*ResourceEntry)
	}
	if _, exists := r.resourcesByName[databaseID][name]; exists {
		return nil, fmt.Errorf("storage: resource %q already exists in database %d", name, databaseID)
	}
	r.nextResourceID++
	entry := &ResourceEntry{ID: r.nextResourceID, UUID: uuid.New(), DatabaseID: databaseID, Name: name}
	r.resourcesByName[databaseID][name] = entry
	r.resourcesByID[entry.ID] = entry
	return entry, nil
}

// Resource looks up a resource by database ID and name.
func (r *Registry) Resource(databaseID uint64, name string) (*ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.resourcesByName[databaseID]
	if !ok {
		return nil, false
	}
	e, ok := byName[name]
	return e, ok
}

// ResourceByID looks up a resource by its numeric ID.
func (r *Registry) ResourceByID(id uint64) (*ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.resourcesByID[id]
	return e, ok
}
