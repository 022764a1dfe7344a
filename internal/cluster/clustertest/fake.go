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

// Package clustertest provides an in-memory cluster.Client for tests. It
// models the cluster behaviors the archival engine depends on: a write block
// also rejects deletion, alias patterns resolve to concrete indices at
// update time, and reindex runs as an asynchronous task that completes after
// a configurable number of polls.
package clustertest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/solsticehq/sunrunner/internal/cluster"
)

// Index seeds or reports one index held by the fake.
type Index struct {
	Docs      int64
	SizeBytes int64
	Settings  cluster.Settings
	Mappings  json.RawMessage
	ReadOnly  bool
}

type task struct {
	source    string
	dest      string
	slices    int
	pollsLeft int
	completed bool
}

type Fake struct {
	mu sync.Mutex

	indices map[string]*Index
	aliases map[string]map[string]struct{}
	tasks   map[string]*task
	taskSeq int

	calls  []string
	failOn map[string]error

	// PollsUntilDone is how many TaskStatus calls a reindex task stays
	// incomplete before finishing. Zero completes on the first poll.
	PollsUntilDone int
	// LoseDocs drops this many documents from the destination when a
	// reindex completes, to simulate silent data loss.
	LoseDocs int64
}

var _ cluster.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		indices: make(map[string]*Index),
		aliases: make(map[string]map[string]struct{}),
		tasks:   make(map[string]*task),
		failOn:  make(map[string]error),
	}
}

// AddIndex seeds an index. Zero-value settings and mappings get usable
// defaults (two shards, one replica, a single text field).
func (f *Fake) AddIndex(name string, idx Index) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idx.Settings == nil {
		idx.Settings = cluster.Settings{
			"number_of_shards":   "2",
			"number_of_replicas": "1",
		}
	}
	if idx.Mappings == nil {
		idx.Mappings = json.RawMessage(`{"properties":{"message":{"type":"text"}}}`)
	}
	stored := idx
	stored.Settings = cloneSettings(idx.Settings)
	f.indices[name] = &stored
}

// Index returns a copy of the named index's current state.
func (f *Fake) Index(name string) (Index, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, ok := f.indices[name]
	if !ok {
		return Index{}, false
	}
	out := *idx
	out.Settings = cloneSettings(idx.Settings)
	return out, true
}

// FailWith makes every subsequent call of the named operation return err.
// Operation names match the cluster.Client method names ("CreateIndex",
// "ReindexAsync", ...). A nil err clears the injection.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, op)
		return
	}
	f.failOn[op] = err
}

// Calls returns every operation performed so far, in order, formatted as
// "Op arg1 arg2". Useful for asserting compensation ordering.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// record logs the call and returns the injected error, if any. Callers must
// hold f.mu.
func (f *Fake) record(op string, args ...string) error {
	entry := op
	if len(args) > 0 {
		entry += " " + strings.Join(args, " ")
	}
	f.calls = append(f.calls, entry)
	return f.failOn[op]
}

func (f *Fake) ListIndices(_ context.Context) ([]cluster.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListIndices"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(f.indices))
	for name := range f.indices {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]cluster.IndexInfo, 0, len(names))
	for _, name := range names {
		idx := f.indices[name]
		infos = append(infos, cluster.IndexInfo{
			Name:      name,
			SizeBytes: idx.SizeBytes,
			Docs:      idx.Docs,
			Health:    "green",
			Status:    "open",
		})
	}
	return infos, nil
}

func (f *Fake) Exists(_ context.Context, index string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Exists", index); err != nil {
		return false, err
	}
	_, ok := f.indices[index]
	return ok, nil
}

func (f *Fake) Refresh(_ context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Refresh", index); err != nil {
		return err
	}
	if _, ok := f.indices[index]; !ok {
		return fmt.Errorf("no such index [%s]", index)
	}
	return nil
}

func (f *Fake) SetReadOnly(_ context.Context, index string, readOnly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("SetReadOnly", index, fmt.Sprint(readOnly)); err != nil {
		return err
	}
	idx, ok := f.indices[index]
	if !ok {
		return fmt.Errorf("no such index [%s]", index)
	}
	idx.ReadOnly = readOnly
	if readOnly {
		idx.Settings["blocks"] = map[string]any{"read_only": "true"}
	} else {
		delete(idx.Settings, "blocks")
	}
	return nil
}

func (f *Fake) GetMapping(_ context.Context, index string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetMapping", index); err != nil {
		return nil, err
	}
	idx, ok := f.indices[index]
	if !ok {
		return nil, fmt.Errorf("no such index [%s]", index)
	}
	out := make(json.RawMessage, len(idx.Mappings))
	copy(out, idx.Mappings)
	return out, nil
}

func (f *Fake) GetSettings(_ context.Context, index string) (cluster.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetSettings", index); err != nil {
		return nil, err
	}
	idx, ok := f.indices[index]
	if !ok {
		return nil, fmt.Errorf("no such index [%s]", index)
	}
	return cloneSettings(idx.Settings), nil
}

func (f *Fake) PutSettings(_ context.Context, index string, settings map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("PutSettings", index); err != nil {
		return err
	}
	idx, ok := f.indices[index]
	if !ok {
		return fmt.Errorf("no such index [%s]", index)
	}

	// A read-only index rejects settings changes except toggling the block
	// itself, same as a real cluster.
	if idx.ReadOnly && !onlyBlockToggle(settings) {
		return fmt.Errorf("index [%s] blocked by: [FORBIDDEN/5/index read-only (api)]", index)
	}

	for k, v := range settings {
		if k == "index.blocks.read_only" {
			on, _ := v.(bool)
			idx.ReadOnly = on
			if on {
				idx.Settings["blocks"] = map[string]any{"read_only": "true"}
			} else {
				delete(idx.Settings, "blocks")
			}
			continue
		}
		idx.Settings[strings.TrimPrefix(k, "index.")] = fmt.Sprint(v)
	}
	return nil
}

func onlyBlockToggle(settings map[string]any) bool {
	for k := range settings {
		if k != "index.blocks.read_only" {
			return false
		}
	}
	return len(settings) > 0
}

func (f *Fake) CreateIndex(_ context.Context, index string, settings cluster.Settings, mappings json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateIndex", index); err != nil {
		return err
	}
	if _, ok := f.indices[index]; ok {
		return fmt.Errorf("resource_already_exists_exception: index [%s] already exists", index)
	}
	idx := &Index{
		Settings: cloneSettings(settings),
		Mappings: mappings,
	}
	if idx.Settings == nil {
		idx.Settings = cluster.Settings{}
	}
	f.indices[index] = idx
	return nil
}

func (f *Fake) DeleteIndex(_ context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DeleteIndex", index); err != nil {
		return err
	}
	idx, ok := f.indices[index]
	if !ok {
		return fmt.Errorf("no such index [%s]", index)
	}
	if idx.ReadOnly {
		return fmt.Errorf("index [%s] blocked by: [FORBIDDEN/5/index read-only (api)]", index)
	}
	delete(f.indices, index)
	for _, members := range f.aliases {
		delete(members, index)
	}
	return nil
}

func (f *Fake) ReindexAsync(_ context.Context, source, dest string, slices int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ReindexAsync", source, dest); err != nil {
		return "", err
	}
	if _, ok := f.indices[source]; !ok {
		return "", fmt.Errorf("no such index [%s]", source)
	}
	// A real reindex auto-creates the destination when it is missing.
	if _, ok := f.indices[dest]; !ok {
		f.indices[dest] = &Index{
			Settings: cluster.Settings{"number_of_shards": "1", "number_of_replicas": "1"},
			Mappings: json.RawMessage(`{}`),
		}
	}

	f.taskSeq++
	id := fmt.Sprintf("node-0:%d", f.taskSeq)
	f.tasks[id] = &task{
		source:    source,
		dest:      dest,
		slices:    slices,
		pollsLeft: f.PollsUntilDone,
	}
	return id, nil
}

// TaskSlices returns the slice count a reindex task was started with.
func (f *Fake) TaskSlices(taskID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return 0, false
	}
	return t.slices, true
}

func (f *Fake) TaskStatus(_ context.Context, taskID string) (cluster.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("TaskStatus", taskID); err != nil {
		return cluster.TaskStatus{}, err
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return cluster.TaskStatus{}, fmt.Errorf("task [%s] not found", taskID)
	}
	if !t.completed {
		if t.pollsLeft > 0 {
			t.pollsLeft--
			return cluster.TaskStatus{Completed: false}, nil
		}
		t.completed = true
		src, srcOK := f.indices[t.source]
		dst, dstOK := f.indices[t.dest]
		if srcOK && dstOK {
			dst.Docs = src.Docs - f.LoseDocs
			if dst.Docs < 0 {
				dst.Docs = 0
			}
			dst.SizeBytes = src.SizeBytes
		}
	}
	return cluster.TaskStatus{Completed: true}, nil
}

func (f *Fake) Count(_ context.Context, index string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Count", index); err != nil {
		return 0, err
	}
	if idx, ok := f.indices[index]; ok {
		return idx.Docs, nil
	}
	if members, ok := f.aliases[index]; ok {
		var total int64
		for name := range members {
			if idx, live := f.indices[name]; live {
				total += idx.Docs
			}
		}
		return total, nil
	}
	return 0, fmt.Errorf("no such index [%s]", index)
}

func (f *Fake) UpdateAliases(_ context.Context, actions ...cluster.AliasAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("UpdateAliases"); err != nil {
		return err
	}
	if len(actions) == 0 {
		return fmt.Errorf("no alias actions given")
	}
	for _, action := range actions {
		switch {
		case action.Add != nil:
			members := f.aliases[action.Add.Alias]
			if members == nil {
				members = make(map[string]struct{})
				f.aliases[action.Add.Alias] = members
			}
			// Patterns resolve against live indices now, not in the future.
			for name := range f.indices {
				if matchPattern(action.Add.Index, name) {
					members[name] = struct{}{}
				}
			}
		case action.Remove != nil:
			if members, ok := f.aliases[action.Remove.Alias]; ok {
				for name := range members {
					if matchPattern(action.Remove.Index, name) {
						delete(members, name)
					}
				}
			}
		default:
			return fmt.Errorf("alias action with neither add nor remove")
		}
	}
	return nil
}

func (f *Fake) AliasExists(_ context.Context, alias string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("AliasExists", alias); err != nil {
		return false, err
	}
	members, ok := f.aliases[alias]
	return ok && len(members) > 0, nil
}

func (f *Fake) GetAlias(_ context.Context, alias string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetAlias", alias); err != nil {
		return nil, err
	}
	members, ok := f.aliases[alias]
	if !ok || len(members) == 0 {
		return nil, fmt.Errorf("alias [%s] missing", alias)
	}
	out := make([]string, 0, len(members))
	for name := range members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func matchPattern(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

func cloneSettings(s cluster.Settings) cluster.Settings {
	if s == nil {
		return nil
	}
	out := make(cluster.Settings, len(s))
	for k, v := range s {
		if nested, ok := v.(map[string]any); ok {
			nv := make(map[string]any, len(nested))
			for nk, val := range nested {
				nv[nk] = val
			}
			out[k] = nv
			continue
		}
		out[k] = v
	}
	return out
}
