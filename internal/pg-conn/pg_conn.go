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

package pgconn

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/blnkfinance/payline/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// ConnectDB opens a pooled Postgres handle and verifies it with a ping.
// Callers own the returned handle; there is no process-wide instance.
func ConnectDB(cfg config.DataSourceConfig) (*sql.DB, error) {
	if cfg.Dns == "" {
		return nil, errors.New("data source DNS is empty")
	}

	db, err := sql.Open("postgres", cfg.Dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logrus.WithError(err).Error("database connection error ❌")
		_ = db.Close()
		return nil, err
	}

	logrus.Info("database connection established ✅")
	return db, nil
}
