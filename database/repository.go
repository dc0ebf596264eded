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

package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blnkfinance/payline/model"
)

// IDataSource groups every persistence operation of the service layer.
type IDataSource interface {
	transactional
	idempotency
	ledger
	payout
	destination
	payment
	action
	audit
	integrity
}

type transactional interface {
	WithTx(ctx context.Context, fn func(tx IDataSource) error) error
}

type idempotency interface {
	ClaimIdempotencyKey(ctx context.Context, scope, key string, staleAfter time.Duration) (*model.IdempotencyRecord, bool, error) // Claims a key; false when another caller holds or completed it
	GetIdempotencyRecord(ctx context.Context, scope, key string) (*model.IdempotencyRecord, error)
	CompleteIdempotencyKey(ctx context.Context, scope, key string, result json.RawMessage) error
	FailIdempotencyKey(ctx context.Context, scope, key, message string) error
}

type ledger interface {
	PinOwnerCurrency(ctx context.Context, ownerID, currency string) (string, error) // Returns the currency already pinned for the owner
	LockOwner(ctx context.Context, ownerID string) error                            // Row lock serializing balance checks for one owner
	InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) (*model.LedgerEntry, bool, error)
	GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*model.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error)
	SumLedgerEntries(ctx context.Context, ownerID string) (*model.Balance, error)
}

type payout interface {
	CreatePayoutRequest(ctx context.Context, p model.PayoutRequest) (*model.PayoutRequest, error)
	GetPayoutRequest(ctx context.Context, payoutID string) (*model.PayoutRequest, error)
	GetPayoutRequestForUpdate(ctx context.Context, payoutID string) (*model.PayoutRequest, error) // SELECT ... FOR UPDATE, call inside WithTx
	GetPayoutRequestByKey(ctx context.Context, sellerID, idempotencyKey string) (*model.PayoutRequest, error)
	UpdatePayoutRequest(ctx context.Context, p *model.PayoutRequest) error
	ListPayoutRequests(ctx context.Context, filter model.PayoutFilter) ([]model.PayoutRequest, error)
}

type destination interface {
	CreateDestination(ctx context.Context, d model.PayoutDestination) (*model.PayoutDestination, error)
	GetDestination(ctx context.Context, destinationID string) (*model.PayoutDestination, error)
	GetDestinationByFingerprint(ctx context.Context, sellerID, fingerprint string) (*model.PayoutDestination, error)
	ListDestinations(ctx context.Context, sellerID string) ([]model.PayoutDestination, error)
	ClearDefaultDestination(ctx context.Context, sellerID string) error
	SetDefaultDestination(ctx context.Context, sellerID, destinationID string) error
	DeactivateDestination(ctx context.Context, sellerID, destinationID string) error
}

type payment interface {
	GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error)
	SetPaymentProviderEvent(ctx context.Context, orderID, providerEventID string) error
	MarkPaymentReleased(ctx context.Context, orderID string, at time.Time) (bool, error) // False when already released
	ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Payment, error)
	RecordProviderEvent(ctx context.Context, event model.ProviderEvent) (bool, error) // False on a duplicate delivery
}

type action interface {
	UpsertActionAudit(ctx context.Context, a model.ActionAudit) (*model.ActionAudit, bool, error)
	GetActionAudit(ctx context.Context, idempotencyKey string) (*model.ActionAudit, error)
	StartActionAttempt(ctx context.Context, idempotencyKey string, leaseUntil time.Time) (*model.ActionAudit, error)
	CompleteAction(ctx context.Context, idempotencyKey string, response json.RawMessage) error
	FailActionAttempt(ctx context.Context, idempotencyKey string, event model.FailureEvent, terminal bool) error
	ResetActionForReplay(ctx context.Context, idempotencyKey string, event model.FailureEvent) error
	ReleaseActionLease(ctx context.Context, idempotencyKey string, event model.FailureEvent) error
	ListExpiredLeases(ctx context.Context, expiredBefore time.Time, limit int) ([]model.ActionAudit, error)
}

type audit interface {
	CreateAuditLog(ctx context.Context, log model.AuditLog) error
	ListAuditLogs(ctx context.Context, filter model.AuditFilter) ([]model.AuditLog, error)
}

type integrity interface {
	FindReleasedWithoutEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error)
	FindOrphanEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error)
}
