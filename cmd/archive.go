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

	"github.com/spf13/cobra"

	"github.com/solsticehq/sunrunner/internal/driver"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive INDEX",
		Short: "Archive one index end to end",
		Long: `archive runs the full chain for a single index regardless of its size:
block writes, reindex into a dated copy, verify counts, and delete the
source. The command blocks until the migration finishes or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := handleSignals(context.Background())
			defer cancel()

			svcs, err := buildServices(ctx)
			if err != nil {
				return err
			}
			drv := driver.NewDriver(svcs.runner, svcs.driverOptions(0))
			return drv.ArchiveIndex(ctx, args[0])
		},
	}

	rootCmd.AddCommand(cmd)
}
