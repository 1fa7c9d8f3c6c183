// Package store provides an in-memory billing.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/rwa-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	residents map[billing.ResidentID]billing.Resident
	periods   map[key]billing.PaymentPeriod
	runs      []billing.Run
}

type key struct {
	ResidentID billing.ResidentID
	Period     billing.Period
}

func NewMemory() *Memory {
	return &Memory{
		residents: make(map[billing.ResidentID]billing.Resident),
		periods:   make(map[key]billing.PaymentPeriod),
	}
}

func (m *Memory) GetResident(_ context.Context, id billing.ResidentID) (*billing.Resident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getResidentLocked(id)
}

func (m *Memory) ListResidents(_ context.Context, filter billing.ResidentFilter) ([]billing.Resident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listResidentsLocked(filter), nil
}

func (m *Memory) SaveResident(_ context.Context, r billing.Resident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.residents[r.ID] = r
	return nil
}

func (m *Memory) DeleteResident(_ context.Context, id billing.ResidentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteResidentLocked(id)
}

func (m *Memory) GetPaymentPeriod(_ context.Context, id billing.ResidentID, period billing.Period) (*billing.PaymentPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPeriodLocked(id, period), nil
}

func (m *Memory) ListPaymentPeriods(_ context.Context, id billing.ResidentID, from billing.Period) ([]billing.PaymentPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeriodsLocked(id, from), nil
}

func (m *Memory) ListPaymentPeriodsByPeriod(_ context.Context, period billing.Period) ([]billing.PaymentPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByPeriodLocked(period), nil
}

func (m *Memory) CountPaymentPeriods(_ context.Context, period billing.Period) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listByPeriodLocked(period)), nil
}

func (m *Memory) UpsertPaymentPeriod(_ context.Context, p billing.PaymentPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(p)
	return nil
}

func (m *Memory) DeletePaymentPeriod(_ context.Context, id billing.ResidentID, period billing.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePeriodLocked(id, period)
}

// SaveRun implements billing.RunLog.
func (m *Memory) SaveRun(_ context.Context, run billing.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]billing.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]billing.Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}

// =============================================================================
// LOCKED HELPERS - callers hold mu
// =============================================================================

func (m *Memory) getResidentLocked(id billing.ResidentID) (*billing.Resident, error) {
	r, ok := m.residents[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, billing.ErrResidentNotFound)
	}
	return &r, nil
}

func (m *Memory) listResidentsLocked(filter billing.ResidentFilter) []billing.Resident {
	out := []billing.Resident{}
	for _, r := range m.residents {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) deleteResidentLocked(id billing.ResidentID) error {
	if _, ok := m.residents[id]; !ok {
		return fmt.Errorf("%s: %w", id, billing.ErrResidentNotFound)
	}
	delete(m.residents, id)
	return nil
}

func (m *Memory) getPeriodLocked(id billing.ResidentID, period billing.Period) *billing.PaymentPeriod {
	p, ok := m.periods[key{id, period}]
	if !ok {
		return nil
	}
	p = clonePeriod(p)
	return &p
}

func (m *Memory) listPeriodsLocked(id billing.ResidentID, from billing.Period) []billing.PaymentPeriod {
	out := []billing.PaymentPeriod{}
	for k, p := range m.periods {
		if k.ResidentID != id {
			continue
		}
		if !from.IsZero() && k.Period.Before(from) {
			continue
		}
		out = append(out, clonePeriod(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

func (m *Memory) listByPeriodLocked(period billing.Period) []billing.PaymentPeriod {
	out := []billing.PaymentPeriod{}
	for k, p := range m.periods {
		if k.Period.Equal(period) {
			out = append(out, clonePeriod(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResidentID < out[j].ResidentID })
	return out
}

func (m *Memory) upsertLocked(p billing.PaymentPeriod) {
	k := key{p.ResidentID, p.Period}
	if existing, ok := m.periods[k]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	m.periods[k] = clonePeriod(p)
}

func (m *Memory) deletePeriodLocked(id billing.ResidentID, period billing.Period) error {
	k := key{id, period}
	if _, ok := m.periods[k]; !ok {
		return fmt.Errorf("%s %s: %w", id, period, billing.ErrPaymentPeriodNotFound)
	}
	delete(m.periods, k)
	return nil
}

func clonePeriod(p billing.PaymentPeriod) billing.PaymentPeriod {
	if p.PaymentDate != nil {
		d := *p.PaymentDate
		p.PaymentDate = &d
	}
	return p
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The view passed to fn works on the locked maps directly.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	residents map[billing.ResidentID]billing.Resident
	periods   map[key]billing.PaymentPeriod
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		residents: make(map[billing.ResidentID]billing.Resident, len(tm.residents)),
		periods:   make(map[key]billing.PaymentPeriod, len(tm.periods)),
	}
	for k, v := range tm.residents {
		s.residents[k] = v
	}
	for k, v := range tm.periods {
		s.periods[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.residents = s.residents
	tm.periods = s.periods
}

type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetResident(_ context.Context, id billing.ResidentID) (*billing.Resident, error) {
	return tv.parent.getResidentLocked(id)
}

func (tv *txMemoryView) ListResidents(_ context.Context, filter billing.ResidentFilter) ([]billing.Resident, error) {
	return tv.parent.listResidentsLocked(filter), nil
}

func (tv *txMemoryView) SaveResident(_ context.Context, r billing.Resident) error {
	tv.parent.residents[r.ID] = r
	return nil
}

func (tv *txMemoryView) DeleteResident(_ context.Context, id billing.ResidentID) error {
	return tv.parent.deleteResidentLocked(id)
}

func (tv *txMemoryView) GetPaymentPeriod(_ context.Context, id billing.ResidentID, period billing.Period) (*billing.PaymentPeriod, error) {
	return tv.parent.getPeriodLocked(id, period), nil
}

func (tv *txMemoryView) ListPaymentPeriods(_ context.Context, id billing.ResidentID, from billing.Period) ([]billing.PaymentPeriod, error) {
	return tv.parent.listPeriodsLocked(id, from), nil
}

func (tv *txMemoryView) ListPaymentPeriodsByPeriod(_ context.Context, period billing.Period) ([]billing.PaymentPeriod, error) {
	return tv.parent.listByPeriodLocked(period), nil
}

func (tv *txMemoryView) CountPaymentPeriods(_ context.Context, period billing.Period) (int, error) {
	return len(tv.parent.listByPeriodLocked(period)), nil
}

func (tv *txMemoryView) UpsertPaymentPeriod(_ context.Context, p billing.PaymentPeriod) error {
	tv.parent.upsertLocked(p)
	return nil
}

func (tv *txMemoryView) DeletePaymentPeriod(_ context.Context, id billing.ResidentID, period billing.Period) error {
	return tv.parent.deletePeriodLocked(id, period)
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.residents = make(map[billing.ResidentID]billing.Resident)
	m.periods = make(map[key]billing.PaymentPeriod)
	m.runs = nil
	return nil
}
