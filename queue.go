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
	"fmt"
	"time"

	"github.com/blnkfinance/payline/config"
	redis_db "github.com/blnkfinance/payline/internal/redis-db"
	"github.com/blnkfinance/payline/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TaskClient is the subset of *asynq.Client the service enqueues with.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// TaskInspector is the subset of *asynq.Inspector used for dead-letter
// forensics and queue stats.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	RunTask(queue, id string) error
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// Queue represents the asynq queues for marketplace actions and webhooks.
// The archived set of the action queue is the dead-letter queue.
type Queue struct {
	Client    TaskClient
	Inspector TaskInspector
	cfg       config.QueueConfig
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis URL cannot be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf.Redis)
	if err != nil {
		return nil, err
	}
	return NewQueueWithClients(conf.Queue, asynq.NewClient(opt), asynq.NewInspector(opt)), nil
}

// NewQueueWithClients builds a Queue over existing asynq clients.
func NewQueueWithClients(cfg config.QueueConfig, client TaskClient, inspector TaskInspector) *Queue {
	return &Queue{Client: client, Inspector: inspector, cfg: cfg}
}

// RedisClientOpt converts the redis configuration into asynq connection options.
func RedisClientOpt(conf config.RedisConfig) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Dns, conf.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func (q *Queue) ActionQueue() string {
	return q.cfg.ActionQueue
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// EnqueueAction puts an action task on the action queue under its tracking
// id. A live task with the same id yields asynq.ErrTaskIDConflict.
func (q *Queue) EnqueueAction(ctx context.Context, task model.ActionTask) (*asynq.TaskInfo, error) {
	ctx, span := tracer.Start(ctx, "Queue.EnqueueAction")
	defer span.End()

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(task.TrackingID),
		asynq.Queue(q.cfg.ActionQueue),
		asynq.MaxRetry(q.cfg.MaxAttempts - 1),
		asynq.Timeout(q.cfg.Lease()),
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(q.cfg.ActionQueue, payload), opts...)
	if err != nil {
		return nil, err
	}
	logrus.Infof(" [*] Successfully enqueued action: %s", task.TrackingID)
	return info, nil
}

// EnqueueWebhook enqueues a webhook notification task.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.cfg.WebhookQueue, payload, asynq.Queue(q.cfg.WebhookQueue))
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

// RetryDelay spaces action retries exponentially from base, with jitter.
// n is the number of retries already made.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.MaxInterval = 10 * time.Minute
		b.MaxElapsedTime = 0
		b.Reset()

		d := b.NextBackOff()
		for i := 0; i < n; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

// isMissing reports whether an inspector error means the task or queue does not exist.
func isMissing(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

// isDuplicateTask reports whether an enqueue collided with a live task.
func isDuplicateTask(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}
