/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

// WithTx runs fn against the mock itself, so expectations set on m also
// cover calls made inside the transaction.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(tx database.IDataSource) error) error {
	return fn(m)
}

// Idempotency methods

func (m *MockDataSource) ClaimIdempotencyKey(ctx context.Context, scope, key string, staleAfter time.Duration) (*model.IdempotencyRecord, bool, error) {
	args := m.Called(ctx, scope, key, staleAfter)
	rec, _ := args.Get(0).(*model.IdempotencyRecord)
	return rec, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetIdempotencyRecord(ctx context.Context, scope, key string) (*model.IdempotencyRecord, error) {
	args := m.Called(ctx, scope, key)
	rec, _ := args.Get(0).(*model.IdempotencyRecord)
	return rec, args.Error(1)
}

func (m *MockDataSource) CompleteIdempotencyKey(ctx context.Context, scope, key string, result json.RawMessage) error {
	args := m.Called(ctx, scope, key, result)
	return args.Error(0)
}

func (m *MockDataSource) FailIdempotencyKey(ctx context.Context, scope, key, message string) error {
	args := m.Called(ctx, scope, key, message)
	return args.Error(0)
}

// Ledger methods

func (m *MockDataSource) PinOwnerCurrency(ctx context.Context, ownerID, currency string) (string, error) {
	args := m.Called(ctx, ownerID, currency)
	return args.String(0), args.Error(1)
}

func (m *MockDataSource) LockOwner(ctx context.Context, ownerID string) error {
	args := m.Called(ctx, ownerID)
	return args.Error(0)
}

func (m *MockDataSource) InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) (*model.LedgerEntry, bool, error) {
	args := m.Called(ctx, entry)
	e, _ := args.Get(0).(*model.LedgerEntry)
	return e, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*model.LedgerEntry, error) {
	args := m.Called(ctx, idempotencyKey)
	e, _ := args.Get(0).(*model.LedgerEntry)
	return e, args.Error(1)
}

func (m *MockDataSource) ListLedgerEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	entries, _ := args.Get(0).([]model.LedgerEntry)
	return entries, args.Error(1)
}

func (m *MockDataSource) SumLedgerEntries(ctx context.Context, ownerID string) (*model.Balance, error) {
	args := m.Called(ctx, ownerID)
	b, _ := args.Get(0).(*model.Balance)
	return b, args.Error(1)
}

// Payout methods

func (m *MockDataSource) CreatePayoutRequest(ctx context.Context, p model.PayoutRequest) (*model.PayoutRequest, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(*model.PayoutRequest)
	return out, args.Error(1)
}

func (m *MockDataSource) GetPayoutRequest(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	args := m.Called(ctx, payoutID)
	out, _ := args.Get(0).(*model.PayoutRequest)
	return out, args.Error(1)
}

func (m *MockDataSource) GetPayoutRequestForUpdate(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	args := m.Called(ctx, payoutID)
	out, _ := args.Get(0).(*model.PayoutRequest)
	return out, args.Error(1)
}

func (m *MockDataSource) GetPayoutRequestByKey(ctx context.Context, sellerID, idempotencyKey string) (*model.PayoutRequest, error) {
	args := m.Called(ctx, sellerID, idempotencyKey)
	out, _ := args.Get(0).(*model.PayoutRequest)
	return out, args.Error(1)
}

func (m *MockDataSource) UpdatePayoutRequest(ctx context.Context, p *model.PayoutRequest) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) ListPayoutRequests(ctx context.Context, filter model.PayoutFilter) ([]model.PayoutRequest, error) {
	args := m.Called(ctx, filter)
	out, _ := args.Get(0).([]model.PayoutRequest)
	return out, args.Error(1)
}

// Destination methods

func (m *MockDataSource) CreateDestination(ctx context.Context, d model.PayoutDestination) (*model.PayoutDestination, error) {
	args := m.Called(ctx, d)
	out, _ := args.Get(0).(*model.PayoutDestination)
	return out, args.Error(1)
}

func (m *MockDataSource) GetDestination(ctx context.Context, destinationID string) (*model.PayoutDestination, error) {
	args := m.Called(ctx, destinationID)
	out, _ := args.Get(0).(*model.PayoutDestination)
	return out, args.Error(1)
}

func (m *MockDataSource) GetDestinationByFingerprint(ctx context.Context, sellerID, fingerprint string) (*model.PayoutDestination, error) {
	args := m.Called(ctx, sellerID, fingerprint)
	out, _ := args.Get(0).(*model.PayoutDestination)
	return out, args.Error(1)
}

func (m *MockDataSource) ListDestinations(ctx context.Context, sellerID string) ([]model.PayoutDestination, error) {
	args := m.Called(ctx, sellerID)
	out, _ := args.Get(0).([]model.PayoutDestination)
	return out, args.Error(1)
}

func (m *MockDataSource) ClearDefaultDestination(ctx context.Context, sellerID string) error {
	args := m.Called(ctx, sellerID)
	return args.Error(0)
}

func (m *MockDataSource) SetDefaultDestination(ctx context.Context, sellerID, destinationID string) error {
	args := m.Called(ctx, sellerID, destinationID)
	return args.Error(0)
}

func (m *MockDataSource) DeactivateDestination(ctx context.Context, sellerID, destinationID string) error {
	args := m.Called(ctx, sellerID, destinationID)
	return args.Error(0)
}

// Payment methods

func (m *MockDataSource) GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	args := m.Called(ctx, orderID)
	out, _ := args.Get(0).(*model.Payment)
	return out, args.Error(1)
}

func (m *MockDataSource) SetPaymentProviderEvent(ctx context.Context, orderID, providerEventID string) error {
	args := m.Called(ctx, orderID, providerEventID)
	return args.Error(0)
}

func (m *MockDataSource) MarkPaymentReleased(ctx context.Context, orderID string, at time.Time) (bool, error) {
	args := m.Called(ctx, orderID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Payment, error) {
	args := m.Called(ctx, olderThan, limit)
	out, _ := args.Get(0).([]model.Payment)
	return out, args.Error(1)
}

func (m *MockDataSource) RecordProviderEvent(ctx context.Context, event model.ProviderEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

// Action methods

func (m *MockDataSource) UpsertActionAudit(ctx context.Context, a model.ActionAudit) (*model.ActionAudit, bool, error) {
	args := m.Called(ctx, a)
	out, _ := args.Get(0).(*model.ActionAudit)
	return out, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetActionAudit(ctx context.Context, idempotencyKey string) (*model.ActionAudit, error) {
	args := m.Called(ctx, idempotencyKey)
	out, _ := args.Get(0).(*model.ActionAudit)
	return out, args.Error(1)
}

func (m *MockDataSource) StartActionAttempt(ctx context.Context, idempotencyKey string, leaseUntil time.Time) (*model.ActionAudit, error) {
	args := m.Called(ctx, idempotencyKey, leaseUntil)
	out, _ := args.Get(0).(*model.ActionAudit)
	return out, args.Error(1)
}

func (m *MockDataSource) CompleteAction(ctx context.Context, idempotencyKey string, response json.RawMessage) error {
	args := m.Called(ctx, idempotencyKey, response)
	return args.Error(0)
}

func (m *MockDataSource) FailActionAttempt(ctx context.Context, idempotencyKey string, event model.FailureEvent, terminal bool) error {
	args := m.Called(ctx, idempotencyKey, event, terminal)
	return args.Error(0)
}

func (m *MockDataSource) ResetActionForReplay(ctx context.Context, idempotencyKey string, event model.FailureEvent) error {
	args := m.Called(ctx, idempotencyKey, event)
	return args.Error(0)
}

func (m *MockDataSource) ReleaseActionLease(ctx context.Context, idempotencyKey string, event model.FailureEvent) error {
	args := m.Called(ctx, idempotencyKey, event)
	return args.Error(0)
}

func (m *MockDataSource) ListExpiredLeases(ctx context.Context, expiredBefore time.Time, limit int) ([]model.ActionAudit, error) {
	args := m.Called(ctx, expiredBefore, limit)
	out, _ := args.Get(0).([]model.ActionAudit)
	return out, args.Error(1)
}

// Audit methods

func (m *MockDataSource) CreateAuditLog(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockDataSource) ListAuditLogs(ctx context.Context, filter model.AuditFilter) ([]model.AuditLog, error) {
	args := m.Called(ctx, filter)
	out, _ := args.Get(0).([]model.AuditLog)
	return out, args.Error(1)
}

// Integrity methods

func (m *MockDataSource) FindReleasedWithoutEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]model.IntegrityFinding)
	return out, args.Error(1)
}

func (m *MockDataSource) FindOrphanEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]model.IntegrityFinding)
	return out, args.Error(1)
}
