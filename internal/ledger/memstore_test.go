package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lexledger/internal/types"
)

// ============================================================
// In-memory Store
// ============================================================

// memStore is an in-memory Store. LockAccount takes a per-account mutex held
// until Commit or Rollback, mirroring SELECT ... FOR UPDATE. Writes are
// buffered in the Tx and applied on Commit.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]types.Account
	entries  []types.LedgerEntry
	nextID   int64
	locks    map[string]*sync.Mutex

	beginErr  error
	commitErr error
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]types.Account),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *memStore) seed(acct types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}

func (s *memStore) get(id string) types.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) entriesFor(id string) []types.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memStore) BeginTx(_ context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{store: s}, nil
}

func (s *memStore) GetAccount(_ context.Context, id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return &acct, nil
}

func (s *memStore) ListEntries(_ context.Context, id string, since time.Time, beforeID int64, limit int) ([]types.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID != id || e.CreatedAt.Before(since) {
			continue
		}
		if beforeID > 0 && e.ID >= beforeID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	store    *memStore
	held     []*sync.Mutex
	accounts map[string]types.Account
	inserted map[string]bool
	entries  []*types.LedgerEntry
	done     bool
}

func (t *memTx) LockAccount(_ context.Context, id string) (*types.Account, error) {
	l := t.store.lockFor(id)
	l.Lock()
	t.held = append(t.held, l)

	t.store.mu.Lock()
	acct, ok := t.store.accounts[id]
	t.store.mu.Unlock()
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return &acct, nil
}

func (t *memTx) InsertAccount(_ context.Context, acct *types.Account) error {
	t.store.mu.Lock()
	_, exists := t.store.accounts[acct.ID]
	t.store.mu.Unlock()
	if exists {
		return types.NewAppError(types.ErrCodeConflictAccountExists, "account already exists", nil)
	}
	t.put(*acct)
	if t.inserted == nil {
		t.inserted = make(map[string]bool)
	}
	t.inserted[acct.ID] = true
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, acct *types.Account) error {
	t.put(*acct)
	return nil
}

func (t *memTx) put(acct types.Account) {
	if t.accounts == nil {
		t.accounts = make(map[string]types.Account)
	}
	t.accounts[acct.ID] = acct
}

func (t *memTx) AppendEntry(_ context.Context, e *types.LedgerEntry) error {
	if t.store.appendErr != nil {
		return t.store.appendErr
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.mu.Lock()
	for id, acct := range t.accounts {
		t.store.accounts[id] = acct
	}
	for _, e := range t.entries {
		t.store.nextID++
		e.ID = t.store.nextID
		t.store.entries = append(t.store.entries, *e)
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	t.done = true
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

// ============================================================
// Recording collaborators
// ============================================================

type recordingMetrics struct {
	mu        sync.Mutex
	debits    []types.ActionKind
	denied    []types.ActionKind
	purchases []int
	resets    []types.PlanTier
}

func (m *recordingMetrics) RecordDebit(_ context.Context, kind types.ActionKind, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debits = append(m.debits, kind)
}

func (m *recordingMetrics) RecordDebitDenied(_ context.Context, kind types.ActionKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = append(m.denied, kind)
}

func (m *recordingMetrics) RecordPurchase(_ context.Context, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, credits)
}

func (m *recordingMetrics) RecordReset(_ context.Context, plan types.PlanTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, plan)
}

type observerCall struct {
	acct          types.Account
	previousTotal int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observerCall
	err   error
}

func (o *recordingObserver) BalanceChanged(_ context.Context, acct types.Account, previousTotal int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observerCall{acct: acct, previousTotal: previousTotal})
	return o.err
}
