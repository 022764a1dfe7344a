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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var payload string
	var file string

	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run a single archival step",
		Long: `step runs one step request and prints the response. The response of one
step is the request of the next, so a full archival can be driven by feeding
each output back in. The request comes from --payload, or from --file ("-"
reads stdin).`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := handleSignals(context.Background())
			defer cancel()

			body, err := readPayload(payload, file)
			if err != nil {
				return err
			}

			svcs, err := buildServices(ctx)
			if err != nil {
				return err
			}

			out, err := svcs.runner.HandleStep(ctx, body)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "step request JSON")
	cmd.Flags().StringVar(&file, "file", "", `file holding the step request JSON ("-" reads stdin)`)
	cmd.MarkFlagsMutuallyExclusive("payload", "file")

	rootCmd.AddCommand(cmd)
}

func readPayload(payload, file string) ([]byte, error) {
	switch {
	case payload != "":
		return []byte(payload), nil
	case file == "-":
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading step request from stdin: %w", err)
		}
		return body, nil
	case file != "":
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading step request: %w", err)
		}
		return body, nil
	default:
		return nil, errors.New("one of --payload or --file is required")
	}
}
