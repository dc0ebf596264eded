package payline

import (
	"context"
	"errors"
	"fmt"

	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const readOnlyKey = "payline:system:read_only"

// IsReadOnly reports the maintenance switch. The value lives in redis so every
// process sees the same state. Without a stored value the configured default
// applies.
func (p *Payline) IsReadOnly(ctx context.Context) (bool, error) {
	if p.redis == nil {
		return p.cfg.ReadOnly, nil
	}
	v, err := p.redis.Get(ctx, readOnlyKey).Result()
	if errors.Is(err, redis.Nil) {
		return p.cfg.ReadOnly, nil
	}
	if err != nil {
		return p.cfg.ReadOnly, err
	}
	return v == "1", nil
}

// SetReadOnly flips the maintenance switch and audits the change.
func (p *Payline) SetReadOnly(ctx context.Context, enabled bool, actor, reason string) error {
	if !model.ValidReason(reason, p.cfg.Payout.MinReasonLength) {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("A reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}
	if p.redis == nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Read-only switch needs redis", nil)
	}

	before, _ := p.IsReadOnly(ctx)
	value := "0"
	if enabled {
		value = "1"
	}
	if err := p.redis.Set(ctx, readOnlyKey, value, 0).Err(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update read-only switch", err)
	}

	logrus.WithFields(logrus.Fields{"actor_id": actor, "read_only": enabled}).Warn("read-only switch changed")
	p.audit(ctx, actor, model.AuditReadOnlyToggle, "system", "read_only", reason,
		map[string]bool{"read_only": before}, map[string]bool{"read_only": enabled})
	return nil
}

// ensureWritable rejects mutating queue operations while read-only. An
// unreadable switch falls back to the configured default.
func (p *Payline) ensureWritable(ctx context.Context) error {
	readOnly, err := p.IsReadOnly(ctx)
	if err != nil {
		logrus.Warnf("failed to read read-only switch, using configured default: %v", err)
	}
	if readOnly {
		return apierror.NewAPIError(apierror.ErrSystemProtected, "System is in read-only mode", nil)
	}
	return nil
}
