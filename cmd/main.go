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
	"errors"
	"fmt"
	"os"

	"github.com/blnkfinance/payline"
	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/notification"
	pgconn "github.com/blnkfinance/payline/internal/pg-conn"
	redis_db "github.com/blnkfinance/payline/internal/redis-db"
	"github.com/blnkfinance/payline/internal/tokenization"
	"github.com/blnkfinance/payline/providers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// skipSetup marks commands that only need the configuration.
const skipSetup = "skip_setup"

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// paylineInstance holds the runtime service and the handles it was built from.
type paylineInstance struct {
	payline *payline.Payline
	cnf     *config.Configuration
	closers []func() error
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *paylineInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		configureLogging(cnf)

		if cmd.Annotations[skipSetup] == "true" {
			return nil
		}

		if err := app.setup(); err != nil {
			notifier := notification.NewNotifier(cnf.Notification)
			notifier.NotifyError(err)
			notifier.Wait()
			return err
		}
		return nil
	}
}

func postRun(app *paylineInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return app.close()
	}
}

func configureLogging(cnf *config.Configuration) {
	if cnf.Server.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetOutput(os.Stdout)
}

// setup connects postgres, redis and the task queue, then assembles the service.
func (app *paylineInstance) setup() error {
	cfg := app.cnf

	db, err := pgconn.ConnectDB(cfg.DataSource)
	if err != nil {
		return fmt.Errorf("error getting datasource: %w", err)
	}
	app.closers = append(app.closers, db.Close)

	rdb, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	app.closers = append(app.closers, rdb.Client().Close)

	queue, err := payline.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating queue: %w", err)
	}
	app.closers = append(app.closers, queue.Close)

	var tokenizer *tokenization.TokenizationService
	if cfg.Tokenization.Secret != "" {
		tokenizer, err = tokenization.NewTokenizationService([]byte(cfg.Tokenization.Secret))
		if err != nil {
			return fmt.Errorf("error creating tokenizer: %w", err)
		}
	}

	notifier := notification.NewNotifier(cfg.Notification)
	app.closers = append(app.closers, func() error {
		notifier.Wait()
		return nil
	})

	p, err := payline.NewPayline(cfg, payline.Dependencies{
		DataSource:          database.NewDataSource(db),
		Redis:               rdb.Client(),
		Queue:               queue,
		PayoutProvider:      providers.NewHTTPPayoutProvider(cfg.Providers.Payout),
		MarketplaceProvider: providers.NewHTTPMarketplaceProvider(cfg.Providers.Marketplace),
		Notifier:            notifier,
		Tokenizer:           tokenizer,
	})
	if err != nil {
		return fmt.Errorf("error creating payline: %w", err)
	}
	app.payline = p
	return nil
}

// close releases handles in reverse order of acquisition.
func (app *paylineInstance) close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}

func NewCLI() *CLI {
	var configFile string
	p := &paylineInstance{}

	rootCmd := &cobra.Command{
		Use:         "payline",
		Short:       "Idempotent settlement and marketplace action engine",
		Run:         func(cmd *cobra.Command, args []string) { _ = cmd.Help() },
		Annotations: map[string]string{skipSetup: "true"},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payline.json", "Configuration file for payline")
	rootCmd.PersistentPreRunE = preRun(p, &configFile)
	rootCmd.PersistentPostRunE = postRun(p)

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(workerCommands(p))
	rootCmd.AddCommand(migrateCommands(p))
	rootCmd.AddCommand(reconcileCommands(p))
	rootCmd.AddCommand(tokenCommands(p))
	rootCmd.AddCommand(configCommands(p))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
