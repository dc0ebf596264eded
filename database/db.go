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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("payline.database")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Datasource runs raw SQL against the payline schema. A Datasource handed to
// a WithTx callback is bound to that transaction.
type Datasource struct {
	Conn *sql.DB
	tx   *sql.Tx
}

func NewDataSource(conn *sql.DB) IDataSource {
	return Datasource{Conn: conn}
}

func (d Datasource) db() queryer {
	if d.tx != nil {
		return d.tx
	}
	return d.Conn
}

// WithTx runs fn inside a single transaction and commits when fn returns nil.
// Calls nested inside an existing transaction join it.
func (d Datasource) WithTx(ctx context.Context, fn func(tx IDataSource) error) error {
	if d.tx != nil {
		return fn(d)
	}

	ctx, span := tracer.Start(ctx, "WithTx")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	if err := fn(Datasource{Conn: d.Conn, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			span.RecordError(rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

// dbError maps driver errors onto coded API errors. An empty notFound message
// treats sql.ErrNoRows like any other failure.
func dbError(err error, notFound, msg string) error {
	if errors.Is(err, sql.ErrNoRows) && notFound != "" {
		return apierror.NewAPIError(apierror.ErrNotFound, notFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("%s: duplicate key", msg), err)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, msg, err)
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
