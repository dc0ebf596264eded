package model

import (
	"encoding/json"
	"time"
)

const (
	AuditPayoutApprove    = "payout.approve"
	AuditPayoutReject     = "payout.reject"
	AuditPayoutProcess    = "payout.process"
	AuditForceRelease     = "funds.force_release"
	AuditRelease          = "funds.release"
	AuditReadOnlyToggle   = "system.read_only"
	AuditDeadLetterReplay = "queue.dlq_replay"
	AuditJobUnlock        = "queue.job_unlock"
	AuditDestinationAdd   = "destination.create"
	AuditDestinationOff   = "destination.deactivate"
)

type AuditLog struct {
	AuditID    string          `json:"audit_id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Reason     string          `json:"reason,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

type IntegrityIssue string

const (
	IssueMissingCredit     IntegrityIssue = "MISSING_CREDIT"
	IssueMissingCommission IntegrityIssue = "MISSING_COMMISSION"
	IssueOrphanEntry       IntegrityIssue = "ORPHAN_ENTRY"
)

type IntegrityFinding struct {
	Issue           IntegrityIssue `json:"issue"`
	OrderID         string         `json:"order_id"`
	EntryKey        string         `json:"entry_key,omitempty"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
}

type IntegrityReport struct {
	CheckedAt time.Time          `json:"checked_at"`
	Findings  []IntegrityFinding `json:"findings"`
	Healthy   bool               `json:"healthy"`
}
