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
	"encoding/json"
	"fmt"

	"github.com/blnkfinance/payline"
	"github.com/spf13/cobra"
)

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// reconcileCommands runs recovery passes on demand, outside the worker loop.
func reconcileCommands(p *paylineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "run one recovery pass: expired leases, stuck releases and integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := payline.NewRecoveryProcessor(p.payline).RunOnce(context.Background())
			return printJSON(result)
		},
	}

	var limit int
	integrity := &cobra.Command{
		Use:   "integrity",
		Short: "compare released payments against provider release records",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := p.payline.CheckIntegrity(context.Background(), limit)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	integrity.Flags().IntVar(&limit, "limit", 0, "maximum payments to check")
	cmd.AddCommand(integrity)

	return cmd
}
