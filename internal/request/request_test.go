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

package request_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blnkfinance/payline/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJsonReq(t *testing.T) {
	payload := map[string]string{"order_id": "ord_1"}
	buf, err := request.ToJsonReq(payload)
	require.NoError(t, err)
	expected, _ := json.Marshal(payload)
	assert.Equal(t, expected, buf.Bytes())

	buf, err = request.ToJsonReq(map[string]interface{}{"c": make(chan int)})
	assert.Error(t, err)
	assert.Nil(t, buf)
}

func TestCall_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"event_id":"evt_1"}`))
	}))
	defer server.Close()

	req, err := request.NewJSONRequest(context.Background(), http.MethodPost, server.URL, map[string]string{"a": "b"})
	require.NoError(t, err)

	var out struct {
		EventID string `json:"event_id"`
	}
	resp, err := request.Call(request.NewClient(time.Second), req, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "evt_1", out.EventID)
}

func TestCall_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	req, err := request.NewJSONRequest(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = request.Call(nil, req, nil)
	var se *request.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "maintenance", se.Body)
	assert.True(t, se.Retryable())

	assert.False(t, (&request.StatusError{StatusCode: http.StatusBadRequest}).Retryable())
}

func TestCall_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	req, err := request.NewJSONRequest(context.Background(), http.MethodPost, server.URL, nil)
	require.NoError(t, err)

	var out map[string]interface{}
	_, err = request.Call(nil, req, &out)
	assert.NoError(t, err)
}
