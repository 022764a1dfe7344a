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

package archive

import "strings"

// ArchivalError is a structured failure raised after the cluster has been
// mutated. It carries both index names so alerts and logs identify the
// migration without re-deriving it from a stack trace.
type ArchivalError struct {
	Message  string
	Index    string
	NewIndex string
	Err      error
}

func (e *ArchivalError) Error() string {
	parts := []string{"Message: " + e.Message}
	if e.Index != "" {
		parts = append(parts, "Original Index: "+e.Index)
	}
	if e.NewIndex != "" {
		parts = append(parts, "New Index: "+e.NewIndex)
	}
	if e.Err != nil {
		parts = append(parts, "Original Error: "+e.Err.Error())
	}
	return strings.Join(parts, " | ")
}

func (e *ArchivalError) Unwrap() error { return e.Err }

// ValidationError reports bad step input or a failed precondition. It is
// raised before any cluster mutation, so no compensation is involved.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
