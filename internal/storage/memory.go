package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu          sync.RWMutex
	records     map[string]CallRecord  // call_id|type
	snaps       map[string]BillSnapshot // phone|period
	batch       map[string]BatchProgress
	settings    map[string]string
	users       map[string]User
	tokens      map[string]Token
	casbinRules []CasbinRule
	emailConfig *EmailConfig
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		records:  make(map[string]CallRecord),
		snaps:    make(map[string]BillSnapshot),
		batch:    make(map[string]BatchProgress),
		settings: make(map[string]string),
		users:    make(map[string]User),
		tokens:   make(map[string]Token),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func recordKey(callID, recordType string) string { return callID + "|" + recordType }

func (m *MemoryStorage) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(rec.CallID, rec.Type)
	if _, ok := m.records[key]; ok {
		return ErrDuplicateRecord
	}
	rec.ID = uint(len(m.records) + 1)
	m.records[key] = rec
	return nil
}

func (m *MemoryStorage) GetCallRecord(ctx context.Context, callID, recordType string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(callID, recordType)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MemoryStorage) ListEndRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CallRecord
	for _, rec := range m.records {
		if rec.Type != RecordTypeEnd {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func snapshotKey(phoneNumber, period string) string { return phoneNumber + "|" + period }

func (m *MemoryStorage) GetBillSnapshot(ctx context.Context, phoneNumber, period string) (*BillSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[snapshotKey(phoneNumber, period)]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (m *MemoryStorage) SaveBillSnapshot(ctx context.Context, snap BillSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.ComputedAt.IsZero() {
		snap.ComputedAt = time.Now()
	}
	m.snaps[snapshotKey(snap.PhoneNumber, snap.Period)] = snap
	return nil
}

func (m *MemoryStorage) SeedBatchProgress(ctx context.Context, batchID string, phoneNumbers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, phone := range phoneNumbers {
		key := batchID + "|" + phone
		if _, ok := m.batch[key]; ok {
			continue
		}
		m.batch[key] = BatchProgress{
			BatchID:     batchID,
			PhoneNumber: phone,
			Status:      "pending",
			UpdatedAt:   time.Now(),
		}
	}
	return nil
}

func (m *MemoryStorage) SaveBatchProgress(ctx context.Context, progress BatchProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	progress.UpdatedAt = time.Now()
	m.batch[progress.BatchID+"|"+progress.PhoneNumber] = progress
	return nil
}

func (m *MemoryStorage) GetPendingBatchSubscribers(ctx context.Context, batchID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.batch {
		if p.BatchID == batchID && (p.Status == "pending" || p.Status == "failed") {
			out = append(out, p.PhoneNumber)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) CreateToken(ctx context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *MemoryStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil
	}
	now := time.Now()
	t.LastUsedAt = &now
	m.tokens[id] = t
	return nil
}

func (m *MemoryStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CasbinRule, len(m.casbinRules))
	copy(out, m.casbinRules)
	return out, nil
}

func (m *MemoryStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = uint(len(m.casbinRules) + 1)
	m.casbinRules = append(m.casbinRules, rule)
	return nil
}

func (m *MemoryStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.casbinRules {
		if r.PType == rule.PType && r.V0 == rule.V0 && r.V1 == rule.V1 && r.V2 == rule.V2 {
			m.casbinRules = append(m.casbinRules[:i], m.casbinRules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emailConfig == nil {
		return nil, nil
	}
	cp := *m.emailConfig
	return &cp, nil
}

func (m *MemoryStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailConfig = &cfg
	return nil
}
