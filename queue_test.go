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

package payline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/model"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	cnf.SetDefaults()
	q, err := NewQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueAction(t *testing.T) {
	q, _ := newRedisQueue(t)
	task := model.ActionTask{TrackingID: "act-q-1", Request: labelRequest("act-q-1")}

	info, err := q.EnqueueAction(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "act-q-1", info.ID)
	assert.Equal(t, "marketplace_actions", info.Queue)
	assert.Equal(t, 2, info.MaxRetry)

	stored, err := q.Inspector.GetTaskInfo(q.ActionQueue(), "act-q-1")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, stored.State)

	var decoded model.ActionTask
	require.NoError(t, json.Unmarshal(stored.Payload, &decoded))
	assert.Equal(t, "act-q-1", decoded.TrackingID)
	assert.Equal(t, "cmp_1", decoded.Request.CompanyID)
}

func TestEnqueueActionDuplicateID(t *testing.T) {
	q, _ := newRedisQueue(t)
	task := model.ActionTask{TrackingID: "act-q-2", Request: labelRequest("act-q-2")}

	_, err := q.EnqueueAction(context.Background(), task)
	require.NoError(t, err)

	_, err = q.EnqueueAction(context.Background(), task)
	require.Error(t, err)
	assert.True(t, isDuplicateTask(err))
}

func TestInspectorMissingTask(t *testing.T) {
	q, _ := newRedisQueue(t)
	_, err := q.Inspector.GetTaskInfo(q.ActionQueue(), "nope")
	assert.True(t, isMissing(err))
}

func TestEnqueueWebhookUsesWebhookQueue(t *testing.T) {
	q, mr := newRedisQueue(t)
	require.NoError(t, q.EnqueueWebhook(context.Background(), NewWebhook{Event: eventPayoutPaid, Payload: map[string]string{"payout_id": "pay_1"}}))

	pending, err := mr.List("asynq:{webhook_queue}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNewQueueRejectsEmptyAddress(t *testing.T) {
	_, err := NewQueue(&config.Configuration{})
	assert.Error(t, err)
}

func TestRetryDelayGrows(t *testing.T) {
	delay := RetryDelay(5 * time.Second)
	task := asynq.NewTask("marketplace_actions", nil)
	cause := errors.New("timeout")

	first := delay(0, cause, task)
	assert.GreaterOrEqual(t, first, 4*time.Second)
	assert.LessOrEqual(t, first, 6*time.Second)

	third := delay(2, cause, task)
	assert.GreaterOrEqual(t, third, 16*time.Second)
	assert.LessOrEqual(t, third, 24*time.Second)

	capped := delay(30, cause, task)
	assert.LessOrEqual(t, capped, 12*time.Minute)
}
