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

// Package providers holds the HTTP clients for the external payout and
// marketplace providers. Errors returned by both clients are classified
// apierror values, so callers decide on retries by kind alone.
package providers

import (
	"context"
	"net"
	"net/http"

	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/internal/request"
	"github.com/pkg/errors"
)

// classify maps a transport or status error to an apierror. Timeouts,
// connection failures, 408, 429 and 5xx are transient; any other 4xx is a
// validation failure that must not be retried.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apierror.As(err); ok {
		return err
	}

	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() || statusErr.StatusCode == http.StatusRequestTimeout {
			return apierror.NewAPIError(apierror.ErrProviderFailure, op+" failed with a retryable status", errors.Wrap(err, op))
		}
		return apierror.NewAPIError(apierror.ErrInvalidInput, op+" was rejected by the provider", errors.Wrap(err, op))
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apierror.NewAPIError(apierror.ErrProviderFailure, op+" timed out or could not connect", errors.Wrap(err, op))
	}
	return apierror.NewAPIError(apierror.ErrProviderFailure, op+" failed", errors.Wrap(err, op))
}

func setAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
