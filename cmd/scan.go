// Copyright (C) 2025-2026 SolsticeHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solsticehq/sunrunner/internal/archive"
)

func init() {
	var thresholdGB float64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List indexes over the size threshold",
		Long: `scan runs the find step once and prints the candidate index names as a
JSON array. Indexes already carrying an archived suffix are never listed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := handleSignals(context.Background())
			defer cancel()

			svcs, err := buildServices(ctx)
			if err != nil {
				return err
			}

			req := archive.StepRequest{Step: archive.StepFindLargeIndexes}
			if thresholdGB > 0 {
				req.ExecutionInput = &archive.ExecutionInput{ThresholdOverride: &thresholdGB}
			}
			payload, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("marshaling step request: %w", err)
			}

			out, err := svcs.runner.HandleStep(ctx, payload)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Float64Var(&thresholdGB, "threshold-gb", 0, "size cutoff in GB (0 uses the configured default)")

	rootCmd.AddCommand(cmd)
}
