package storage

import (
	"context"
	"sync"
	"time"

	"ingestq/internal/task"
)

// MemoryStore is the heap-backed TaskStore. It honors the same contract as
// the SQLite store and is the default for tests and single-process setups
// that can tolerate losing state on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*memoryEntry
	order   []string
	locks   []HeldLock
	actions map[string][]ActionRecord
}

type memoryEntry struct {
	def    task.Definition
	status task.Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*memoryEntry),
		actions: make(map[string][]ActionRecord),
	}
}

func (s *MemoryStore) Insert(_ context.Context, def task.Definition, st task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[def.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[def.ID] = &memoryEntry{def: def, status: st}
	s.order = append(s.order, def.ID)
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, st task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[st.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if entry.status.Complete() {
		if entry.status.Code == st.Code {
			return nil // idempotent under retry
		}
		return ErrStatusConflict
	}
	entry.status = st
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, taskID string) (task.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return task.Status{}, ErrTaskNotFound
	}
	return entry.status, nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (task.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return task.Definition{}, ErrTaskNotFound
	}
	return entry.def, nil
}

func (s *MemoryStore) GetActiveTasks(_ context.Context) ([]task.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []task.Definition
	for _, id := range s.order {
		if entry := s.tasks[id]; entry.status.Code == task.StatusRunning {
			active = append(active, entry.def)
		}
	}
	return active, nil
}

func (s *MemoryStore) AddLock(_ context.Context, taskID string, l task.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = append(s.locks, HeldLock{TaskID: taskID, Lock: l})
	return nil
}

func (s *MemoryStore) RemoveLock(_ context.Context, taskID string, l task.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, held := range s.locks {
		if held.TaskID == taskID && sameLock(held.Lock, l) {
			s.locks = append(s.locks[:i], s.locks[i+1:]...)
			return nil
		}
	}
	return ErrLockNotFound
}

func (s *MemoryStore) GetActiveLocks(_ context.Context) ([]HeldLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HeldLock, len(s.locks))
	copy(out, s.locks)
	return out, nil
}

func (s *MemoryStore) LogAction(_ context.Context, taskID, kind string, payload []byte, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[taskID] = append(s.actions[taskID], ActionRecord{
		TaskID:    taskID,
		Kind:      kind,
		Payload:   append([]byte(nil), payload...),
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) GetActionLog(_ context.Context, taskID string) ([]ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActionRecord, len(s.actions[taskID]))
	copy(out, s.actions[taskID])
	return out, nil
}

func sameLock(a, b task.Lock) bool {
	return a.GroupID == b.GroupID &&
		a.DataSource == b.DataSource &&
		a.Interval.Equal(b.Interval) &&
		a.Version == b.Version
}
