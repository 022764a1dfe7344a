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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/solsticehq/sunrunner/cmd"
)

func simpleLogger(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

func init() {
	// Destination index names carry a UTC date suffix; the process clock
	// must agree with it.
	time.Local = time.UTC

	setCPULimit()
	setMemoryLimit()

	if os.Getenv("GOGC") == "" {
		fmt.Fprintln(os.Stderr, "GOGC is not set, defaulting to 50")
		debug.SetGCPercent(50)
		os.Setenv("GOGC", "50")
	}
}

// setCPULimit sizes GOMAXPROCS from the container's CPU quota. ECS reports
// quotas differently from plain cgroups, so it gets its own path.
func setCPULimit() {
	if gomaxecs.IsECS() {
		if _, err := gomaxecs.Set(gomaxecs.WithLogger(simpleLogger)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS for ECS: %v\n", err)
		}
		return
	}
	if _, err := maxprocs.Set(maxprocs.Logger(simpleLogger)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}
}

// setMemoryLimit pins GOMEMLIMIT to 80% of whatever bound the container or
// host imposes.
func setMemoryLimit() {
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMEMLIMIT: %v\n", err)
	}
}

func main() {
	cmd.Execute()
}
