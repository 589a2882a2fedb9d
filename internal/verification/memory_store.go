package verification

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	Entry
	expiresAt time.Time
}

// MemoryStore はプロセス内に確認コードを保持するCodeStore。
// REDIS_URL未設定の開発環境で使う。複数プロセス間では共有されない。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, contactID, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[storeKey(contactID)] = memoryEntry{
		Entry:     Entry{Code: code},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, contactID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(storeKey(contactID))
	if !ok {
		return nil, nil
	}
	entry := e.Entry
	return &entry, nil
}

// IncrementAttempts は試行回数を増やす。期限切れのエントリには0を返す。
func (s *MemoryStore) IncrementAttempts(_ context.Context, contactID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(contactID)
	e, ok := s.live(key)
	if !ok {
		return 0, nil
	}
	e.Attempts++
	s.entries[key] = e
	return e.Attempts, nil
}

func (s *MemoryStore) Delete(_ context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, storeKey(contactID))
	return nil
}

// live は期限内のエントリを返し、期限切れなら削除する。muを保持して呼ぶこと。
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// compile-time interface check
var _ CodeStore = (*MemoryStore)(nil)
