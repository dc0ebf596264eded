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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/payline"
	"github.com/blnkfinance/payline/api/middleware"
	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/database/mocks"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	ds     *mocks.MockDataSource
	cfg    *config.Configuration
}

func newTestServer(t *testing.T, opts ...func(*config.Configuration, *payline.Dependencies)) *testServer {
	t.Helper()
	cfg := &config.Configuration{
		Auth:        config.AuthConfig{JWTSecret: "api-test-secret", Issuer: "marketplace-identity"},
		Idempotency: config.IdempotencyConfig{DisableResultCache: true, InFlightWaitMillis: -1},
	}
	ds := &mocks.MockDataSource{}
	deps := payline.Dependencies{DataSource: ds}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	p, err := payline.NewPayline(cfg, deps)
	require.NoError(t, err)
	return &testServer{router: NewAPI(p).Router(), ds: ds, cfg: cfg}
}

func (s *testServer) token(t *testing.T, p middleware.Principal) string {
	t.Helper()
	token, err := middleware.IssueToken(s.cfg.Auth, p, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) admin(t *testing.T) string {
	return s.token(t, middleware.Principal{Subject: "ops_1", Roles: []string{"finance_admin"}})
}

func (s *testServer) seller(t *testing.T) string {
	return s.token(t, middleware.Principal{Subject: "user_1", TenantID: "seller_1"})
}

func (s *testServer) do(method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.AuthorizationHeader, "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierror.APIError {
	t.Helper()
	var body apierror.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// archivedInspector serves one archived action task.
type archivedInspector struct {
	info *asynq.TaskInfo
}

func (i *archivedInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if i.info == nil || i.info.ID != id {
		return nil, asynq.ErrTaskNotFound
	}
	return i.info, nil
}

func (i *archivedInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{i.info}, nil
}

func (i *archivedInspector) DeleteTask(string, string) error { return nil }

func (i *archivedInspector) RunTask(string, string) error { return nil }

func (i *archivedInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Archived: 1}, nil
}

func (i *archivedInspector) Close() error { return nil }

type nopClient struct{}

func (nopClient) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func (nopClient) Close() error { return nil }

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","read_only":false}`, w.Body.String())

	w = s.do(http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouteGating(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierror.ErrUnauthorized, decodeError(t, w).Code)

	w = s.do(http.MethodGet, "/admin/payouts", s.seller(t), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/balance", s.admin(t), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.ds.AssertExpectations(t)
}

func TestGetBalanceUsesTokenTenant(t *testing.T) {
	s := newTestServer(t)
	s.ds.On("SumLedgerEntries", mock.Anything, "seller_1").Return(&model.Balance{
		OwnerID:   "seller_1",
		Currency:  "TRY",
		Credits:   decimal.NewFromInt(100),
		Available: decimal.NewFromInt(60),
		Debits:    decimal.NewFromInt(40),
	}, nil)

	w := s.do(http.MethodGet, "/balance?owner_id=seller_2", s.seller(t), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var balance model.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, "seller_1", balance.OwnerID)
	assert.True(t, decimal.NewFromInt(60).Equal(balance.Available))
	s.ds.AssertExpectations(t)
}

func TestCreatePayoutNeedsIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"destination_id": "dst_1", "amount": "40", "currency": "TRY"}

	w := s.do(http.MethodPost, "/payouts", s.seller(t), body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "Idempotency-Key")

	body["amount"] = "-1"
	w = s.do(http.MethodPost, "/payouts", s.seller(t), body, map[string]string{middleware.IdempotencyKeyHeader: "req-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierror.ErrInvalidInput, decodeError(t, w).Code)

	s.ds.AssertNotCalled(t, "ClaimIdempotencyKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitActionWhileReadOnly(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Configuration, _ *payline.Dependencies) {
		cfg.ReadOnly = true
	})
	body := map[string]interface{}{
		"marketplace": "trendyol",
		"order_id":    "ord_1",
		"action_key":  "REFRESH_STATUS",
	}

	w := s.do(http.MethodPost, "/actions", s.token(t, middleware.Principal{Subject: "user_1", TenantID: "cmp_1"}), body,
		map[string]string{middleware.IdempotencyKeyHeader: "act-1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierror.ErrSystemProtected, decodeError(t, w).Code)
	s.ds.AssertNotCalled(t, "UpsertActionAudit", mock.Anything, mock.Anything)
}

func TestSubmitActionForAnotherCompany(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"company_id":  "cmp_2",
		"marketplace": "trendyol",
		"order_id":    "ord_1",
		"action_key":  "REFRESH_STATUS",
	}

	w := s.do(http.MethodPost, "/actions", s.token(t, middleware.Principal{Subject: "user_1", TenantID: "cmp_1"}), body,
		map[string]string{middleware.IdempotencyKeyHeader: "act-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apierror.ErrTenantMismatch, decodeError(t, w).Code)
}

func TestAdminListPayoutsFilter(t *testing.T) {
	s := newTestServer(t)
	s.ds.On("ListPayoutRequests", mock.Anything, model.PayoutFilter{
		SellerID: "seller_1",
		Status:   model.PayoutApproved,
		Limit:    50,
	}).Return([]model.PayoutRequest{{PayoutID: "pay_1", SellerID: "seller_1", Status: model.PayoutApproved}}, nil)

	w := s.do(http.MethodGet, "/admin/payouts?seller_id=seller_1&status=approved", s.admin(t), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payouts []model.PayoutRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payouts))
	require.Len(t, payouts, 1)
	assert.Equal(t, "pay_1", payouts[0].PayoutID)
	s.ds.AssertExpectations(t)
}

func TestAdminGetPayoutNotFound(t *testing.T) {
	s := newTestServer(t)
	s.ds.On("GetPayoutRequest", mock.Anything, "pay_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Payout not found", nil))

	w := s.do(http.MethodGet, "/admin/payouts/pay_missing", s.admin(t), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Payout not found", decodeError(t, w).Message)
}

func TestApprovePaidPayoutConflicts(t *testing.T) {
	s := newTestServer(t)
	s.ds.On("ClaimIdempotencyKey", mock.Anything, "payout.transition", "pay_1:approve", mock.Anything).
		Return(&model.IdempotencyRecord{Status: model.IdempotencyInProgress}, true, nil)
	s.ds.On("GetPayoutRequestForUpdate", mock.Anything, "pay_1").
		Return(&model.PayoutRequest{PayoutID: "pay_1", Status: model.PayoutPaidInternal}, nil)
	s.ds.On("FailIdempotencyKey", mock.Anything, "payout.transition", "pay_1:approve", mock.Anything).Return(nil)

	w := s.do(http.MethodPost, "/admin/payouts/pay_1/approve", s.admin(t), map[string]string{"reason": "Seller verified"},
		map[string]string{middleware.IdempotencyKeyHeader: "ops-approve-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierror.ErrInvalidStateTransition, decodeError(t, w).Code)
	s.ds.AssertExpectations(t)
}

func TestApproveNeedsReason(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{middleware.IdempotencyKeyHeader: "ops-approve-2"}

	w := s.do(http.MethodPost, "/admin/payouts/pay_1/approve", s.admin(t), nil, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/admin/payouts/pay_1/approve", s.admin(t), map[string]string{}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/admin/payouts/pay_1/approve", s.admin(t), map[string]string{"reason": "ok"}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierror.ErrInvalidInput, decodeError(t, w).Code)

	s.ds.AssertNotCalled(t, "ClaimIdempotencyKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectNeedsReason(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/admin/payouts/pay_1/reject", s.admin(t), map[string]string{"reason": "no"},
		map[string]string{middleware.IdempotencyKeyHeader: "ops-reject-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.ds.AssertNotCalled(t, "ClaimIdempotencyKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestForceReleaseAndReadOnlyValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/admin/releases/ord_1/force", s.admin(t), map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/admin/system/read-only", s.admin(t), map[string]string{"reason": "Failover"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/admin/system/read-only", s.admin(t), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"read_only":false}`, w.Body.String())
}

func TestReplayDuringCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	payload, err := json.Marshal(model.ActionTask{
		TrackingID: "act-1",
		Request: model.ActionRequest{
			CompanyID:      "cmp_1",
			Marketplace:    "trendyol",
			OrderID:        "ord_1",
			ActionKey:      model.ActionRefreshStatus,
			IdempotencyKey: "act-1",
			Params:         model.ActionParams{RefreshStatus: &model.RefreshStatusParams{}},
		},
	})
	require.NoError(t, err)
	inspector := &archivedInspector{info: &asynq.TaskInfo{
		ID:      "act-1",
		Queue:   "marketplace_actions",
		State:   asynq.TaskStateArchived,
		Payload: payload,
		LastErr: "VALIDATION: package not found",
	}}

	s := newTestServer(t, func(cfg *config.Configuration, deps *payline.Dependencies) {
		cfg.SetDefaults()
		deps.Redis = rdb
		deps.Queue = payline.NewQueueWithClients(cfg.Queue, nopClient{}, inspector)
	})
	s.ds.On("GetActionAudit", mock.Anything, "act-1").
		Return(&model.ActionAudit{IdempotencyKey: "act-1", CompanyID: "cmp_1", Status: model.ActionFailed}, nil)

	require.NoError(t, mr.Set("payline:replay:act-1", "ops_0"))
	mr.SetTTL("payline:replay:act-1", time.Minute)

	body := map[string]string{"reason": "Package id corrected by seller", "target_company_id": "cmp_1"}
	w := s.do(http.MethodPost, "/admin/queue/dlq/act-1/replay", s.admin(t), body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierror.ErrCooldownActive, decodeError(t, w).Code)
	s.ds.AssertNotCalled(t, "ResetActionForReplay", mock.Anything, mock.Anything, mock.Anything)

	w = s.do(http.MethodGet, "/admin/queue/dlq/act-1", s.admin(t), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job model.DeadLetterJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, model.ActionFailed, job.Status)
	assert.Equal(t, "cmp_1", job.Payload.Request.CompanyID)

	w = s.do(http.MethodGet, "/admin/queue/stats", s.admin(t), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"archived":1`)
}
