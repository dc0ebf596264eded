package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/blnkfinance/payline/model"
)

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (d Datasource) CreateAuditLog(ctx context.Context, log model.AuditLog) error {
	_, err := d.db().ExecContext(ctx, `
		INSERT INTO payline.audit_logs (audit_id, actor_id, action, entity_type, entity_id, reason, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`, log.AuditID, log.ActorID, log.Action, log.EntityType, log.EntityID, log.Reason,
		nullableJSON(log.Before), nullableJSON(log.After), log.CreatedAt)
	if err != nil {
		return dbError(err, "", "Failed to write audit log")
	}
	return nil
}

func (d Datasource) ListAuditLogs(ctx context.Context, filter model.AuditFilter) ([]model.AuditLog, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conds = append(conds, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	query := `SELECT audit_id, actor_id, action, entity_type, entity_id, COALESCE(reason, ''), before, after, created_at
		FROM payline.audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := d.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve audit logs")
	}
	defer rows.Close()

	logs := []model.AuditLog{}
	for rows.Next() {
		var (
			l             model.AuditLog
			before, after []byte
		)
		if err := rows.Scan(&l.AuditID, &l.ActorID, &l.Action, &l.EntityType, &l.EntityID, &l.Reason, &before, &after, &l.CreatedAt); err != nil {
			return nil, dbError(err, "", "Failed to scan audit log")
		}
		if len(before) > 0 {
			l.Before = before
		}
		if len(after) > 0 {
			l.After = after
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over audit logs")
	}
	return logs, nil
}
