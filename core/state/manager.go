package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"basketpool/storage"
)

// Manager layers a journaled write overlay on top of a key-value store. Every
// write is recorded so callers can take a snapshot before an operation and
// revert to it when the operation fails. Nothing reaches the backing store
// until Commit.
type Manager struct {
	mu        sync.Mutex
	db        storage.Database
	dirty     map[string]overlayValue
	journal   journal
	revisions []revision
	nextRevID int
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Manager{db: db, dirty: make(map[string]overlayValue)}
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(string(key), overlayValue{data: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	data, found, err := m.read(string(key))
	m.mu.Unlock()
	if err != nil || !found {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(string(key), overlayValue{deleted: true})
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	found, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !found {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// Snapshot returns an identifier for the current revision of state.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRevID
	m.nextRevID++
	m.revisions = append(m.revisions, revision{id: id, journalIndex: len(m.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the snapshot was taken.
// Snapshots taken after revid are invalidated.
func (m *Manager) RevertToSnapshot(revid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := sort.Search(len(m.revisions), func(i int) bool {
		return m.revisions[i].id >= revid
	})
	if idx == len(m.revisions) || m.revisions[idx].id != revid {
		panic(fmt.Errorf("state: revision id %v cannot be reverted", revid))
	}
	from := m.revisions[idx].journalIndex
	m.journal.undo(m.dirty, from)
	m.journal = m.journal[:from]
	m.revisions = m.revisions[:idx]
}

// Commit flushes pending writes to the backing store and resets the journal.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := m.dirty[key]
		var err error
		if value.deleted {
			err = m.db.Delete([]byte(key))
		} else {
			err = m.db.Put([]byte(key), value.data)
		}
		if err != nil {
			return fmt.Errorf("state: commit %q: %w", key, err)
		}
		delete(m.dirty, key)
	}
	m.journal = nil
	m.revisions = nil
	return nil
}

// Discard drops every pending write.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string]overlayValue)
	m.journal = nil
	m.revisions = nil
}

// Pending reports the number of keys with uncommitted writes.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirty)
}

func (m *Manager) write(key string, value overlayValue) {
	prev, present := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, present: present})
	m.dirty[key] = value
}

func (m *Manager) read(key string) ([]byte, bool, error) {
	if value, ok := m.dirty[key]; ok {
		if value.deleted {
			return nil, false, nil
		}
		return value.data, true, nil
	}
	data, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}
