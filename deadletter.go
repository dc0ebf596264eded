package payline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/payline/internal/apierror"
	redlock "github.com/blnkfinance/payline/internal/lock"
	"github.com/blnkfinance/payline/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	replayCooldownPrefix     = "payline:replay:"
	replayTaskCooldownPrefix = "payline:replay-task:"
)

func deadLetterFromInfo(info *asynq.TaskInfo) (model.DeadLetterJob, error) {
	job := model.DeadLetterJob{
		TaskID:       info.ID,
		Queue:        info.Queue,
		LastError:    info.LastErr,
		AttemptsMade: info.Retried + 1,
		FailedAt:     info.LastFailedAt,
	}
	if err := json.Unmarshal(info.Payload, &job.Payload); err != nil {
		return job, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode dead-letter payload", err)
	}
	return job, nil
}

// ListDeadLetters pages through the archived action tasks. Pages start at 1.
func (p *Payline) ListDeadLetters(ctx context.Context, page, size int) ([]model.DeadLetterJob, error) {
	_, span := tracer.Start(ctx, "ListDeadLetters")
	defer span.End()

	if p.queue == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Action queue is not configured", nil)
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	infos, err := p.queue.Inspector.ListArchivedTasks(p.queue.ActionQueue(), asynq.Page(page), asynq.PageSize(size))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return []model.DeadLetterJob{}, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list dead letters", err)
	}

	jobs := make([]model.DeadLetterJob, 0, len(infos))
	for _, info := range infos {
		job, err := deadLetterFromInfo(info)
		if err != nil {
			logrus.WithField("task_id", info.ID).Warn(err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetDeadLetter returns the forensic view of one archived task: its payload,
// last error, attempts and the audit's failure history.
func (p *Payline) GetDeadLetter(ctx context.Context, taskID string) (*model.DeadLetterJob, error) {
	if p.queue == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Action queue is not configured", nil)
	}
	info, err := p.queue.Inspector.GetTaskInfo(p.queue.ActionQueue(), taskID)
	if isMissing(err) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Dead-letter job not found", nil)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read task", err)
	}
	if info.State != asynq.TaskStateArchived {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task %s is %s, not in the dead-letter queue", taskID, info.State), nil)
	}

	job, err := deadLetterFromInfo(info)
	if err != nil {
		return nil, err
	}
	audit, err := p.datasource.GetActionAudit(ctx, job.Payload.Request.IdempotencyKey)
	switch {
	case err == nil:
		job.Status = audit.Status
		job.FailureHistory = audit.FailureHistory
	case !apierror.HasCode(err, apierror.ErrNotFound):
		return nil, err
	}
	return &job, nil
}

// ReplayDeadLetter puts an archived action back on the live queue under a new
// tracking id. The target company must own the job. Each archived task id and
// each action key may be replayed once per cooldown window, so a second
// replay of the same entry is rejected before the archive is read.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req model.ReplayRequest: The archived task id, operator, reason and tenant.
//
// Returns:
// - *model.ReplayResult: The new tracking id.
// - error: SYSTEM_PROTECTED, INVALID_INPUT, NOT_FOUND, TENANT_MISMATCH or COOLDOWN_ACTIVE.
func (p *Payline) ReplayDeadLetter(ctx context.Context, req model.ReplayRequest) (result *model.ReplayResult, err error) {
	ctx, span := tracer.Start(ctx, "ReplayDeadLetter")
	defer span.End()

	if err := p.ensureWritable(ctx); err != nil {
		deadLetterReplays.WithLabelValues("read_only").Inc()
		return nil, err
	}
	if !model.ValidReason(req.Reason, p.cfg.Payout.MinReasonLength) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("A replay reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}

	taskLock, err := p.acquireReplayCooldown(ctx, replayTaskCooldownPrefix+req.TaskID, req.ActorID)
	if err != nil {
		deadLetterReplays.WithLabelValues("cooldown").Inc()
		return nil, err
	}
	// The cooldown only sticks once the replay is enqueued.
	defer func() {
		if err != nil {
			p.releaseReplayCooldown(taskLock)
		}
	}()

	job, err := p.GetDeadLetter(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.TargetCompanyID != job.Payload.Request.CompanyID {
		deadLetterReplays.WithLabelValues("tenant_mismatch").Inc()
		return nil, apierror.NewAPIError(apierror.ErrTenantMismatch, "Job belongs to another company", nil)
	}

	key := job.Payload.Request.IdempotencyKey
	keyLock, err := p.acquireReplayCooldown(ctx, replayCooldownPrefix+key, req.ActorID)
	if err != nil {
		deadLetterReplays.WithLabelValues("cooldown").Inc()
		return nil, err
	}
	defer func() {
		if err != nil {
			p.releaseReplayCooldown(keyLock)
		}
	}()

	now := p.now()
	trackingID := fmt.Sprintf("replay:%s:%d", key, now.UnixMilli())
	event := model.FailureEvent{
		Event:      model.FailureEventReplay,
		Actor:      req.ActorID,
		Reason:     req.Reason,
		TrackingID: trackingID,
		At:         now,
	}
	if err := p.datasource.ResetActionForReplay(ctx, key, event); err != nil {
		return nil, err
	}

	task := job.Payload
	task.TrackingID = trackingID
	task.Request.ReplayOf = job.TaskID
	if _, err := p.queue.EnqueueAction(ctx, task); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue replay", err)
	}
	if err := p.queue.Inspector.DeleteTask(p.queue.ActionQueue(), job.TaskID); err != nil && !isMissing(err) {
		logrus.WithField("task_id", job.TaskID).Warnf("replayed task left in archive: %v", err)
	}

	result = &model.ReplayResult{TrackingID: trackingID, ReplayOf: job.TaskID, Queue: p.queue.ActionQueue()}
	deadLetterReplays.WithLabelValues("replayed").Inc()
	p.audit(ctx, req.ActorID, model.AuditDeadLetterReplay, "action", key, req.Reason, job, result)
	return result, nil
}

// acquireReplayCooldown takes a cooldown lock and leaves it to expire. Without
// redis there is no way to enforce the window, so replays are refused.
func (p *Payline) acquireReplayCooldown(ctx context.Context, lockKey, actor string) (*redlock.Locker, error) {
	if p.redis == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Replay cooldown store is not configured", nil)
	}
	locker := redlock.NewLocker(p.redis, lockKey, actor)
	err := locker.Lock(ctx, p.cfg.Queue.ReplayCooldown())
	if errors.Is(err, redlock.ErrLockHeld) {
		msg := "Replay cooldown is active for this job"
		if remaining, rerr := locker.Remaining(ctx); rerr == nil && remaining > 0 {
			msg = fmt.Sprintf("Replay cooldown is active for this job, retry in %s", remaining.Round(time.Second))
		}
		return nil, apierror.NewAPIError(apierror.ErrCooldownActive, msg, nil)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire replay cooldown", err)
	}
	return locker, nil
}

func (p *Payline) releaseReplayCooldown(locker *redlock.Locker) {
	if err := locker.Unlock(context.Background()); err != nil {
		logrus.WithField("key", locker.Key()).Warnf("failed to release replay cooldown: %v", err)
	}
}

// UnlockAction clears an expired processing lease and puts the job back on
// the live queue. A lease still held by a worker is a conflict.
func (p *Payline) UnlockAction(ctx context.Context, key, actor, reason string) (*model.ActionAudit, error) {
	ctx, span := tracer.Start(ctx, "UnlockAction")
	defer span.End()

	if !model.ValidReason(reason, p.cfg.Payout.MinReasonLength) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("An unlock reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}
	if p.queue == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Action queue is not configured", nil)
	}

	audit, err := p.datasource.GetActionAudit(ctx, key)
	if err != nil {
		return nil, err
	}
	if audit.Status == model.ActionSucceeded {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Action already succeeded", nil)
	}
	if !audit.LeaseExpired(p.now()) {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Action lease is still held by a worker", nil)
	}

	event := model.FailureEvent{Event: model.FailureEventUnlock, Actor: actor, Reason: reason, At: p.now()}
	if err := p.datasource.ReleaseActionLease(ctx, key, event); err != nil {
		return nil, err
	}
	if err := p.requeueAction(ctx, audit); err != nil {
		return nil, err
	}

	after, err := p.datasource.GetActionAudit(ctx, key)
	if err != nil {
		after = audit
	}
	p.audit(ctx, actor, model.AuditJobUnlock, "action", key, reason, audit, after)
	return after, nil
}

// requeueAction makes sure the action has a runnable task: an archived or
// retrying task is run now, a pending one is left alone and a missing one is
// enqueued again from the stored request.
func (p *Payline) requeueAction(ctx context.Context, audit *model.ActionAudit) error {
	queue := p.queue.ActionQueue()
	taskID := audit.CurrentTaskID()
	info, err := p.queue.Inspector.GetTaskInfo(queue, taskID)
	switch {
	case err == nil:
		switch info.State {
		case asynq.TaskStateArchived, asynq.TaskStateRetry, asynq.TaskStateScheduled:
			if err := p.queue.Inspector.RunTask(queue, info.ID); err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to run task", err)
			}
			return nil
		case asynq.TaskStatePending, asynq.TaskStateActive:
			return nil
		}
	case !isMissing(err):
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read task", err)
	}

	var req model.ActionRequest
	if err := json.Unmarshal(audit.RequestPayload, &req); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Stored action request is unreadable", err)
	}
	_, err = p.queue.EnqueueAction(ctx, model.ActionTask{TrackingID: taskID, Request: req})
	if err != nil && !isDuplicateTask(err) {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue action", err)
	}
	return nil
}

// QueueStats summarises the action queue for operators.
func (p *Payline) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	if p.queue == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Action queue is not configured", nil)
	}
	stats := &model.QueueStats{Queue: p.queue.ActionQueue()}
	stats.ReadOnly, _ = p.IsReadOnly(ctx)

	info, err := p.queue.Inspector.GetQueueInfo(stats.Queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read queue info", err)
	}
	stats.Pending = info.Pending
	stats.Active = info.Active
	stats.Scheduled = info.Scheduled
	stats.Retry = info.Retry
	stats.Archived = info.Archived
	stats.Completed = info.Completed
	stats.Processed = info.Processed
	stats.Failed = info.Failed
	stats.Paused = info.Paused
	return stats, nil
}
