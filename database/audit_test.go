package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/payline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAuditLog(t *testing.T) {
	ds, mock := newMockDatasource(t)

	log := model.AuditLog{
		AuditID:    "aud_1",
		ActorID:    "admin_1",
		Action:     model.AuditPayoutApprove,
		EntityType: "payout",
		EntityID:   "pay_1",
		After:      json.RawMessage(`{"status":"APPROVED"}`),
		CreatedAt:  fixedNow,
	}
	mock.ExpectExec("INSERT INTO payline.audit_logs").
		WithArgs("aud_1", "admin_1", "payout.approve", "payout", "pay_1", "", nil, []byte(`{"status":"APPROVED"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.CreateAuditLog(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditLogs(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT (.+) FROM payline.audit_logs WHERE entity_type = \\$1 AND entity_id = \\$2 ORDER BY created_at DESC LIMIT \\$3").
		WithArgs("payout", "pay_1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"audit_id", "actor_id", "action", "entity_type", "entity_id", "reason", "before", "after", "created_at"}).
			AddRow("aud_2", "admin_1", "payout.reject", "payout", "pay_1", "fraud suspected", []byte(`{"status":"REQUESTED"}`), []byte(`{"status":"REJECTED"}`), fixedNow))

	logs, err := ds.ListAuditLogs(context.Background(), model.AuditFilter{EntityType: "payout", EntityID: "pay_1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "fraud suspected", logs[0].Reason)
	assert.JSONEq(t, `{"status":"REJECTED"}`, string(logs[0].After))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindReleasedWithoutEntries(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT p.order_id").
		WithArgs(500).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "provider_event_id", "issue", "entry_key"}).
			AddRow("ord_7", "evt_7", "MISSING_CREDIT", "ord_7:CREDIT"))

	findings, err := ds.FindReleasedWithoutEntries(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.IssueMissingCredit, findings[0].Issue)
	assert.Equal(t, "evt_7", findings[0].ProviderEventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrphanEntries(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT e.related_order_id").
		WithArgs(500).
		WillReturnRows(sqlmock.NewRows([]string{"related_order_id", "idempotency_key"}).
			AddRow("ord_8", "ord_8:CREDIT"))

	findings, err := ds.FindOrphanEntries(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.IssueOrphanEntry, findings[0].Issue)
}
