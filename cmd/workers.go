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
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/payline"
	"github.com/blnkfinance/payline/config"
	trace "github.com/blnkfinance/payline/internal/traces"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Actions are weighted above webhook delivery.
func initializeQueues(cfg config.QueueConfig) map[string]int {
	return map[string]int{
		cfg.ActionQueue:  3,
		cfg.WebhookQueue: 1,
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := payline.RedisClientOpt(conf.Redis)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency:    conf.Queue.Concurrency,
		Queues:         initializeQueues(conf.Queue),
		RetryDelayFunc: payline.RetryDelay(conf.Queue.RetryBase()),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithFields(logrus.Fields{
				"type":      task.Type(),
				"retried":   retried,
				"max_retry": maxRetry,
			}).WithError(err).Warn("task failed")
		}),
	}), nil
}

func initializeTaskHandlers(p *payline.Payline, cfg config.QueueConfig, mux *asynq.ServeMux) {
	mux.HandleFunc(cfg.ActionQueue, p.ProcessAction)
	mux.HandleFunc(cfg.WebhookQueue, p.ProcessWebhook)
}

// startMonitoring serves the asynqmon dashboard under /monitoring.
func startMonitoring(conf *config.Configuration) (*http.Server, error) {
	redisOption, err := payline.RedisClientOpt(conf.Redis)
	if err != nil {
		return nil, err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", conf.Queue.MonitoringPort),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Infof("asynqmon listening on %s/monitoring", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("could not start asynqmon server: %v", err)
		}
	}()
	return srv, nil
}

// workerCommands starts the queue consumers, the monitoring dashboard and,
// when enabled, the recovery processor. asynq owns signal handling.
func workerCommands(p *paylineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			conf := p.cnf

			shutdown, err := trace.SetupOTelSDK(ctx, conf.ProjectName+"-workers", conf.EnableTelemetry)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logrus.Errorf("error shutting down telemetry: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				return err
			}
			mux := asynq.NewServeMux()
			initializeTaskHandlers(p.payline, conf.Queue, mux)

			monitor, err := startMonitoring(conf)
			if err != nil {
				return err
			}
			defer func() {
				_ = monitor.Close()
			}()

			if conf.Recovery.Enabled {
				recovery := payline.NewRecoveryProcessor(p.payline)
				recovery.Start(ctx)
				defer recovery.Stop()
			}

			if err := srv.Run(mux); err != nil {
				return fmt.Errorf("could not run worker server: %w", err)
			}
			return nil
		},
	}
	return cmd
}
