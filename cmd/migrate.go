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
	"fmt"

	"github.com/blnkfinance/payline"
	pgconn "github.com/blnkfinance/payline/internal/pg-conn"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

func migrateCommands(p *paylineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "run payline schema migrations",
		Annotations: map[string]string{skipSetup: "true"},
	}

	cmd.AddCommand(migrateCommand(p, "up", migrate.Up, "Applied %d migrations!\n"))
	cmd.AddCommand(migrateCommand(p, "down", migrate.Down, "Rolled back %d migrations!\n"))

	return cmd
}

func migrateCommand(p *paylineInstance, use string, direction migrate.MigrationDirection, done string) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: payline.SQLFiles,
				Root:       "sql",
			}

			db, err := pgconn.ConnectDB(p.cnf.DataSource)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			migrate.SetSchema("payline")
			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Printf(done, n)
			return nil
		},
	}
}
