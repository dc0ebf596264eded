package payline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
)

// memData is the shared state of an in-memory datasource.
type memData struct {
	mu   sync.Mutex
	txMu sync.Mutex // serializes transactions, standing in for row locks

	now func() time.Time

	idempotency  map[string]*model.IdempotencyRecord
	currencies   map[string]string
	entries      []model.LedgerEntry
	payouts      map[string]*model.PayoutRequest
	destinations map[string]*model.PayoutDestination
	payments     map[string]*model.Payment
	events       map[string]model.ProviderEvent
	actions      map[string]*model.ActionAudit
	audits       []model.AuditLog

	failMarkReleased     error // injected failure for MarkPaymentReleased
	failSetProviderEvent error // injected failure for SetPaymentProviderEvent
}

// memStore implements database.IDataSource in memory. A store handed to a
// WithTx callback records undo steps so a failed transaction rolls back.
type memStore struct {
	*memData
	undo *[]func()
}

var _ database.IDataSource = memStore{}

func newMemStore(now func() time.Time) memStore {
	return memStore{memData: &memData{
		now:          now,
		idempotency:  map[string]*model.IdempotencyRecord{},
		currencies:   map[string]string{},
		payouts:      map[string]*model.PayoutRequest{},
		destinations: map[string]*model.PayoutDestination{},
		payments:     map[string]*model.Payment{},
		events:       map[string]model.ProviderEvent{},
		actions:      map[string]*model.ActionAudit{},
	}}
}

func notFound(msg string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, msg, nil)
}

// onRollback must be called with mu held.
func (m memStore) onRollback(fn func()) {
	if m.undo != nil {
		*m.undo = append(*m.undo, fn)
	}
}

func (m memStore) WithTx(_ context.Context, fn func(tx database.IDataSource) error) error {
	if m.undo != nil {
		return fn(m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	undo := []func(){}
	tx := memStore{memData: m.memData, undo: &undo}
	if err := fn(tx); err != nil {
		m.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func idemKey(scope, key string) string { return scope + "\x00" + key }

func (m memStore) ClaimIdempotencyKey(_ context.Context, scope, key string, staleAfter time.Duration) (*model.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec, ok := m.idempotency[idemKey(scope, key)]
	if !ok {
		rec = &model.IdempotencyRecord{Scope: scope, Key: key, Status: model.IdempotencyInProgress, Attempts: 1, LockedAt: now, CreatedAt: now, UpdatedAt: now}
		m.idempotency[idemKey(scope, key)] = rec
		out := *rec
		return &out, true, nil
	}
	if rec.Status == model.IdempotencyFailed || rec.IsStale(now, staleAfter) {
		rec.Status = model.IdempotencyInProgress
		rec.LockedAt = now
		rec.ErrorMessage = ""
		rec.Attempts++
		out := *rec
		return &out, true, nil
	}
	out := *rec
	return &out, false, nil
}

func (m memStore) GetIdempotencyRecord(_ context.Context, scope, key string) (*model.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[idemKey(scope, key)]
	if !ok {
		return nil, notFound("Idempotency record not found")
	}
	out := *rec
	return &out, nil
}

func (m memStore) CompleteIdempotencyKey(_ context.Context, scope, key string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[idemKey(scope, key)]
	if !ok || rec.Status != model.IdempotencyInProgress {
		return apierror.NewAPIError(apierror.ErrConflict, "Idempotency key is no longer held by this caller", nil)
	}
	prev := *rec
	rec.Status = model.IdempotencyCompleted
	rec.Result = result
	m.onRollback(func() { *rec = prev })
	return nil
}

func (m memStore) FailIdempotencyKey(_ context.Context, scope, key, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idempotency[idemKey(scope, key)]; ok && rec.Status == model.IdempotencyInProgress {
		rec.Status = model.IdempotencyFailed
		rec.ErrorMessage = message
	}
	return nil
}

func (m memStore) PinOwnerCurrency(_ context.Context, ownerID, currency string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pinned, ok := m.currencies[ownerID]; ok {
		return pinned, nil
	}
	m.currencies[ownerID] = currency
	m.onRollback(func() { delete(m.currencies, ownerID) })
	return currency, nil
}

func (m memStore) LockOwner(context.Context, string) error { return nil }

func (m memStore) InsertLedgerEntry(_ context.Context, entry model.LedgerEntry) (*model.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.IdempotencyKey == entry.IdempotencyKey {
			out := e
			return &out, false, nil
		}
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	n := len(m.entries) - 1
	m.onRollback(func() { m.entries = m.entries[:n] })
	return &entry, true, nil
}

func (m memStore) GetLedgerEntryByKey(_ context.Context, idempotencyKey string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.IdempotencyKey == idempotencyKey {
			out := e
			return &out, nil
		}
	}
	return nil, notFound("Ledger entry not found")
}

func (m memStore) ListLedgerEntries(_ context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LedgerEntry{}
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return []model.LedgerEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memStore) SumLedgerEntries(_ context.Context, ownerID string) (*model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := model.ComputeBalance(ownerID, m.currencies[ownerID], m.entries)
	return &b, nil
}

// ledgerEntries returns a copy of every posted entry.
func (m memStore) ledgerEntries() []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerEntry(nil), m.entries...)
}

func (m memStore) CreatePayoutRequest(_ context.Context, p model.PayoutRequest) (*model.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payouts {
		if existing.SellerID == p.SellerID && existing.IdempotencyKey == p.IdempotencyKey {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Payout request already exists", nil)
		}
	}
	p.UpdatedAt = p.RequestedAt
	stored := p
	m.payouts[p.PayoutID] = &stored
	m.onRollback(func() { delete(m.payouts, p.PayoutID) })
	return &p, nil
}

func (m memStore) GetPayoutRequest(_ context.Context, payoutID string) (*model.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[payoutID]
	if !ok {
		return nil, notFound("Payout request not found")
	}
	out := *p
	return &out, nil
}

func (m memStore) GetPayoutRequestForUpdate(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	return m.GetPayoutRequest(ctx, payoutID)
}

func (m memStore) GetPayoutRequestByKey(_ context.Context, sellerID, idempotencyKey string) (*model.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.SellerID == sellerID && p.IdempotencyKey == idempotencyKey {
			out := *p
			return &out, nil
		}
	}
	return nil, notFound("Payout request not found")
}

func (m memStore) UpdatePayoutRequest(_ context.Context, p *model.PayoutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payouts[p.PayoutID]
	if !ok {
		return notFound("Payout request not found")
	}
	prev := *stored
	*stored = *p
	m.onRollback(func() { *stored = prev })
	return nil
}

func (m memStore) ListPayoutRequests(_ context.Context, filter model.PayoutFilter) ([]model.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PayoutRequest{}
	for _, p := range m.payouts {
		if filter.SellerID != "" && p.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayoutID < out[j].PayoutID })
	return out, nil
}

func (m memStore) CreateDestination(_ context.Context, d model.PayoutDestination) (*model.PayoutDestination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.destinations {
		if existing.SellerID == d.SellerID && existing.Fingerprint == d.Fingerprint {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Destination already registered", nil)
		}
	}
	stored := d
	m.destinations[d.DestinationID] = &stored
	m.onRollback(func() { delete(m.destinations, d.DestinationID) })
	return &d, nil
}

func (m memStore) GetDestination(_ context.Context, destinationID string) (*model.PayoutDestination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[destinationID]
	if !ok {
		return nil, notFound("Destination not found")
	}
	out := *d
	return &out, nil
}

func (m memStore) GetDestinationByFingerprint(_ context.Context, sellerID, fingerprint string) (*model.PayoutDestination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.destinations {
		if d.SellerID == sellerID && d.Fingerprint == fingerprint {
			out := *d
			return &out, nil
		}
	}
	return nil, notFound("Destination not found")
}

func (m memStore) ListDestinations(_ context.Context, sellerID string) ([]model.PayoutDestination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PayoutDestination{}
	for _, d := range m.destinations {
		if d.SellerID == sellerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m memStore) ClearDefaultDestination(_ context.Context, sellerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.destinations {
		if d.SellerID == sellerID && d.IsDefault {
			d.IsDefault = false
			dest := d
			m.onRollback(func() { dest.IsDefault = true })
		}
	}
	return nil
}

func (m memStore) SetDefaultDestination(_ context.Context, sellerID, destinationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[destinationID]
	if !ok || d.SellerID != sellerID || d.Status != model.DestinationActive {
		return notFound("Destination not found")
	}
	d.IsDefault = true
	m.onRollback(func() { d.IsDefault = false })
	return nil
}

func (m memStore) DeactivateDestination(_ context.Context, sellerID, destinationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[destinationID]
	if !ok || d.SellerID != sellerID {
		return notFound("Destination not found")
	}
	d.Status = model.DestinationInactive
	d.IsDefault = false
	return nil
}

func (m memStore) addPayment(p model.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.OrderID] = &p
}

func (m memStore) GetPaymentByOrderID(_ context.Context, orderID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, notFound("Payment not found")
	}
	out := *p
	return &out, nil
}

func (m memStore) SetPaymentProviderEvent(_ context.Context, orderID, providerEventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetProviderEvent != nil {
		return m.failSetProviderEvent
	}
	p, ok := m.payments[orderID]
	if !ok {
		return notFound("Payment not found")
	}
	if p.ProviderEventID == "" {
		p.ProviderEventID = providerEventID
		p.PayoutStatus = model.PayoutInitiated
	}
	return nil
}

func (m memStore) MarkPaymentReleased(_ context.Context, orderID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkReleased != nil {
		return false, m.failMarkReleased
	}
	p, ok := m.payments[orderID]
	if !ok {
		return false, notFound("Payment not found")
	}
	if p.PayoutStatus == model.PayoutReleased {
		return false, nil
	}
	prev := *p
	p.PayoutStatus = model.PayoutReleased
	p.ReleasedAt = &at
	m.onRollback(func() { *p = prev })
	return true, nil
}

func (m memStore) ListStuckPayments(_ context.Context, olderThan time.Time, limit int) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Payment{}
	for _, p := range m.payments {
		if p.Status == model.PaymentPaid && p.PayoutStatus != model.PayoutReleased && p.CreatedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memStore) RecordProviderEvent(_ context.Context, event model.ProviderEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := event.Provider + ":" + event.ProviderEventID
	if _, ok := m.events[k]; ok {
		return false, nil
	}
	m.events[k] = event
	return true, nil
}

func (m memStore) UpsertActionAudit(_ context.Context, a model.ActionAudit) (*model.ActionAudit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.actions[a.IdempotencyKey]; ok {
		out := *existing
		return &out, false, nil
	}
	a.UpdatedAt = a.CreatedAt
	a.FailureHistory = []model.FailureEvent{}
	stored := a
	m.actions[a.IdempotencyKey] = &stored
	return &a, true, nil
}

func (m memStore) GetActionAudit(_ context.Context, idempotencyKey string) (*model.ActionAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[idempotencyKey]
	if !ok {
		return nil, notFound("Action audit not found")
	}
	out := *a
	out.FailureHistory = append([]model.FailureEvent(nil), a.FailureHistory...)
	return &out, nil
}

func (m memStore) StartActionAttempt(_ context.Context, idempotencyKey string, leaseUntil time.Time) (*model.ActionAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[idempotencyKey]
	if !ok {
		return nil, notFound("Action audit not found")
	}
	a.Attempts++
	a.LockExpiresAt = &leaseUntil
	out := *a
	return &out, nil
}

func (m memStore) CompleteAction(_ context.Context, idempotencyKey string, response json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actions[idempotencyKey]; ok {
		a.Status = model.ActionSucceeded
		a.ResponsePayload = response
		a.ErrorMessage = ""
		a.LockExpiresAt = nil
	}
	return nil
}

func (m memStore) FailActionAttempt(_ context.Context, idempotencyKey string, event model.FailureEvent, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actions[idempotencyKey]; ok {
		a.FailureHistory = append(a.FailureHistory, event)
		a.ErrorMessage = event.Error
		a.LockExpiresAt = nil
		if terminal {
			a.Status = model.ActionFailed
		}
	}
	return nil
}

func (m memStore) ResetActionForReplay(_ context.Context, idempotencyKey string, event model.FailureEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actions[idempotencyKey]; ok {
		a.FailureHistory = append(a.FailureHistory, event)
		a.Status = model.ActionPending
		a.ReplayCount++
		a.LockExpiresAt = nil
	}
	return nil
}

func (m memStore) ReleaseActionLease(_ context.Context, idempotencyKey string, event model.FailureEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[idempotencyKey]
	if !ok {
		return notFound("Action audit not found")
	}
	if !a.LeaseExpired(m.now()) {
		return apierror.NewAPIError(apierror.ErrConflict, "Action lease is still held by a worker", nil)
	}
	a.FailureHistory = append(a.FailureHistory, event)
	a.LockExpiresAt = nil
	return nil
}

func (m memStore) ListExpiredLeases(_ context.Context, expiredBefore time.Time, limit int) ([]model.ActionAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ActionAudit{}
	for _, a := range m.actions {
		if a.Status == model.ActionPending && a.LockExpiresAt != nil && a.LockExpiresAt.Before(expiredBefore) {
			out = append(out, *a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memStore) CreateAuditLog(_ context.Context, log model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

func (m memStore) ListAuditLogs(_ context.Context, filter model.AuditFilter) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.AuditLog{}
	for _, l := range m.audits {
		if (filter.EntityType == "" || l.EntityType == filter.EntityType) && (filter.EntityID == "" || l.EntityID == filter.EntityID) {
			out = append(out, l)
		}
	}
	return out, nil
}

// auditActions lists the recorded audit actions in order.
func (m memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audits))
	for _, l := range m.audits {
		out = append(out, l.Action)
	}
	return out
}

func (m memStore) FindReleasedWithoutEntries(_ context.Context, limit int) ([]model.IntegrityFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	has := map[string]bool{}
	for _, e := range m.entries {
		has[e.IdempotencyKey] = true
	}
	out := []model.IntegrityFinding{}
	for _, p := range m.payments {
		if p.PayoutStatus != model.PayoutReleased {
			continue
		}
		if p.SellerNet().IsPositive() && !has[model.CreditKey(p.OrderID)] {
			out = append(out, model.IntegrityFinding{Issue: model.IssueMissingCredit, OrderID: p.OrderID, EntryKey: model.CreditKey(p.OrderID), ProviderEventID: p.ProviderEventID})
		}
		if p.Commission.IsPositive() && !has[model.CommissionKey(p.OrderID)] {
			out = append(out, model.IntegrityFinding{Issue: model.IssueMissingCommission, OrderID: p.OrderID, EntryKey: model.CommissionKey(p.OrderID), ProviderEventID: p.ProviderEventID})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memStore) FindOrphanEntries(_ context.Context, limit int) ([]model.IntegrityFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.IntegrityFinding{}
	for _, e := range m.entries {
		if e.Kind == model.EntryDebit || e.RelatedOrderID == "" {
			continue
		}
		if p, ok := m.payments[e.RelatedOrderID]; !ok || p.PayoutStatus != model.PayoutReleased {
			out = append(out, model.IntegrityFinding{Issue: model.IssueOrphanEntry, OrderID: e.RelatedOrderID, EntryKey: e.IdempotencyKey})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
