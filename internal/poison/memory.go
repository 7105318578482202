package poison

import "sync"

// MemoryStore keeps retry records for the process lifetime only. A restart
// resets all backoff state, which is acceptable because the poller re-reads
// from the tracking cursor and previously failing conversations simply get a
// fresh retry budget.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Get(conversationID string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[conversationID]
	if !ok {
		return nil, false
	}
	copied := *record
	return &copied, true
}

func (m *MemoryStore) Put(record *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	m.records[record.ConversationID] = &copied
}

func (m *MemoryStore) Delete(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, conversationID)
}

func (m *MemoryStore) All() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		copied := *record
		all = append(all, &copied)
	}
	return all
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*Record)
}
