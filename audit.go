package payline

import (
	"context"
	"encoding/json"

	"github.com/blnkfinance/payline/model"
	"github.com/sirupsen/logrus"
)

// Record writes an audit log entry. It is best-effort: a failed write is
// logged and never fails the privileged action that triggered it.
func (p *Payline) Record(ctx context.Context, log model.AuditLog) {
	if log.AuditID == "" {
		log.AuditID = model.GenerateUUIDWithSuffix("aud")
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = p.now()
	}
	if err := p.datasource.CreateAuditLog(context.WithoutCancel(ctx), log); err != nil {
		logrus.WithFields(logrus.Fields{
			"action":    log.Action,
			"entity_id": log.EntityID,
			"actor_id":  log.ActorID,
		}).Errorf("failed to write audit log: %v", err)
	}
}

func (p *Payline) audit(ctx context.Context, actor, action, entityType, entityID, reason string, before, after interface{}) {
	p.Record(ctx, model.AuditLog{
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		Before:     snapshot(before),
		After:      snapshot(after),
	})
}

func snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// ListAuditLogs returns the newest entries for an entity, for compliance review.
func (p *Payline) ListAuditLogs(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return p.datasource.ListAuditLogs(ctx, model.AuditFilter{EntityType: entityType, EntityID: entityID, Limit: limit})
}
