package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

type memRegistryStore struct {
	mu      sync.Mutex
	cfg     *domain.RegistryConfig
	pools   map[uint64]domain.Pool
	failErr error
}

func (m *memRegistryStore) failUpserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func newMemRegistryStore() *memRegistryStore {
	return &memRegistryStore{pools: map[uint64]domain.Pool{}}
}

func (m *memRegistryStore) LoadConfig(context.Context) (domain.RegistryConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return domain.RegistryConfig{}, domain.ErrNotFound
	}
	return *m.cfg, nil
}

func (m *memRegistryStore) SaveConfig(_ context.Context, cfg domain.RegistryConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		m.cfg = &cfg
	}
	return nil
}

func (m *memRegistryStore) UpsertPool(_ context.Context, p domain.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if cur, ok := m.pools[p.ID]; ok && cur.Version >= p.Version {
		return nil
	}
	m.pools[p.ID] = p.Clone()
	return nil
}

func (m *memRegistryStore) ListPools(context.Context) ([]domain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memSettlementStore struct {
	mu   sync.Mutex
	rows []domain.Settlement
}

func (m *memSettlementStore) Insert(_ context.Context, s domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return nil
}

func (m *memSettlementStore) GetByID(_ context.Context, id string) (domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Settlement{}, domain.ErrNotFound
}

func (m *memSettlementStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Settlement, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		out = append(out, m.rows[i])
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memSettlementStore) ListBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Settlement
	for _, s := range m.rows {
		if s.SettledAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu     sync.Mutex
	msgs   []published
	stream []domain.StreamMessage
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, domain.StreamMessage{ID: time.Now().String(), Payload: payload})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count > 0 && len(b.stream) > count {
		return b.stream[:count], nil
	}
	return b.stream, nil
}

func (b *fakeBus) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.channel
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type fakeArchiver struct {
	before time.Time
	n      int64
}

func (a *fakeArchiver) ArchiveSettlements(_ context.Context, before time.Time) (int64, error) {
	a.before = before
	return a.n, nil
}
