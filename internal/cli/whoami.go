// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"
)

// newWhoamiCommand reports the AWS identity stepwise would use to resolve
// ssm: secret references (pkg/mcp/secrets.go), a quick sanity check before
// launching a workflow that depends on Parameter Store.
func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "show the AWS identity used for ssm: secret references",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			awsCfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load AWS configuration: %w", err)
			}

			client := sts.NewFromConfig(awsCfg)
			identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			if err != nil {
				return fmt.Errorf("AWS credential check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", renderMuted("account:"), derefString(identity.Account))
			fmt.Fprintf(out, "%s %s\n", renderMuted("arn:    "), derefString(identity.Arn))
			fmt.Fprintf(out, "%s %s\n", renderMuted("userId: "), derefString(identity.UserId))
			return nil
		},
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
