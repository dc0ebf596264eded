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
	"time"

	"github.com/blnkfinance/payline/api/middleware"
	"github.com/spf13/cobra"
)

// tokenCommands mints a bearer token signed with the configured secret.
// Production tokens come from the identity provider.
func tokenCommands(p *paylineInstance) *cobra.Command {
	var (
		subject string
		tenant  string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:         "token",
		Short:       "issue a development bearer token",
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.IssueToken(p.cnf.Auth, middleware.Principal{
				Subject:  subject,
				TenantID: tenant,
				Roles:    roles,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&tenant, "tenant", "", "seller tenant id")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
