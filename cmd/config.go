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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// configCommands prints the effective configuration with secrets masked.
func configCommands(p *paylineInstance) *cobra.Command {
	return &cobra.Command{
		Use:         "config",
		Short:       "print the loaded configuration",
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *p.cnf
			cfg.Auth.JWTSecret = mask(cfg.Auth.JWTSecret)
			cfg.Tokenization.Secret = mask(cfg.Tokenization.Secret)
			cfg.Providers.Payout.APIKey = mask(cfg.Providers.Payout.APIKey)
			cfg.Providers.Marketplace.APIKey = mask(cfg.Providers.Marketplace.APIKey)

			data, err := json.MarshalIndent(cfg, "", "    ")
			if err != nil {
				return fmt.Errorf("error printing config: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
