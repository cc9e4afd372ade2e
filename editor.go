// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Editor accumulates archive edit operations and applies them on Commit.
type Editor struct {
	path string
	ops  []editOperation
	opts EditOptions
}

// editOperation stores one staged editor operation.
type editOperation struct {
	inputs []Input
	paths  []string
	kind   editOperationKind
}

// editOperationKind identifies staged edit action type.
type editOperationKind uint8

const (
	// editOperationAdd appends new records and fails on existing path.
	editOperationAdd editOperationKind = iota + 1
	// editOperationReplace rewrites existing records.
	editOperationReplace
	// editOperationDelete removes exact paths.
	editOperationDelete
	// editOperationDeleteDir removes records by directory prefix.
	editOperationDeleteDir
)

// OpenEditor creates a staged editor for file-based archive rewrite workflow.
func OpenEditor(path string, opts EditOptions) (*Editor, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrInvalidRecordPath
	}

	opts.applyDefaults()

	return &Editor{
		path: trimmedPath,
		opts: opts,
		ops:  make([]editOperation, 0, 8),
	}, nil
}

// Add schedules adding new records and fails on path collision during commit.
func (e *Editor) Add(inputs ...Input) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorInputs(inputs)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:   editOperationAdd,
		inputs: normalized,
	})

	return nil
}

// Replace schedules replacing existing records.
func (e *Editor) Replace(inputs ...Input) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorInputs(inputs)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:   editOperationReplace,
		inputs: normalized,
	})

	return nil
}

// Delete schedules exact-path removal.
func (e *Editor) Delete(paths ...string) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorPaths(paths)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:  editOperationDelete,
		paths: normalized,
	})

	return nil
}

// DeleteDir schedules directory-prefix removal.
func (e *Editor) DeleteDir(prefixes ...string) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorPaths(prefixes)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:  editOperationDeleteDir,
		paths: normalized,
	})

	return nil
}

// Commit applies all staged operations in one rewrite transaction.
func (e *Editor) Commit(ctx context.Context) (*Pak, error) {
	if e == nil {
		return nil, ErrNilReader
	}

	if ctx == nil {
		ctx = context.Background()
	}

	backupPath := e.path + ".bak"
	if err := prepareBackupSlot(backupPath, e.opts.BackupKeep); err != nil {
		return nil, err
	}

	if err := os.Rename(e.path, backupPath); err != nil {
		return nil, fmt.Errorf("move archive to backup: %w", err)
	}

	pak, err := e.commitFromBackup(ctx, backupPath)
	if err != nil {
		rollbackErr := rollbackFromBackup(e.path, backupPath)
		if rollbackErr != nil {
			return nil, fmt.Errorf("%v (rollback failed: %v)", err, rollbackErr)
		}

		return nil, err
	}

	if e.opts.BackupKeep == 0 {
		if err := removeIfExists(backupPath); err != nil {
			return nil, fmt.Errorf("remove backup: %w", err)
		}
	}

	return pak, nil
}

// commitFromBackup writes the edited archive from the backup source.
func (e *Editor) commitFromBackup(ctx context.Context, backupPath string) (*Pak, error) {
	srcReader, err := OpenWithOptions(backupPath, e.opts.OpenOptions)
	if err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	defer func() { _ = srcReader.Close() }()

	plan, err := buildEditPlan(srcReader.pak.Records, e.ops)
	if err != nil {
		return nil, err
	}

	packOpts := e.opts.PackOptions
	if packOpts.Version == 0 {
		packOpts.Version = srcReader.pak.Version
	}
	if packOpts.MountPoint == "" {
		packOpts.MountPoint = srcReader.pak.MountPoint
	}

	dstFile, err := os.OpenFile(e.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create destination archive: %w", err)
	}

	pak, writeErr := rewriteArchive(ctx, dstFile, srcReader.ra, plan, packOpts)
	if writeErr != nil {
		_ = dstFile.Close()
		return nil, writeErr
	}

	if err := dstFile.Sync(); err != nil {
		_ = dstFile.Close()
		return nil, fmt.Errorf("sync destination archive: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		return nil, fmt.Errorf("close destination archive: %w", err)
	}

	return pak, nil
}

// normalizeEditorInputs validates and canonicalizes editor input list.
func normalizeEditorInputs(inputs []Input) ([]Input, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	normalized := make([]Input, 0, len(inputs))
	for i := range inputs {
		canonicalPath, err := normalizeArchivePath(inputs[i].Path)
		if err != nil {
			return nil, fmt.Errorf("%w: input path %q", ErrInvalidRecordPath, inputs[i].Path)
		}

		item := inputs[i]
		item.Path = canonicalPath
		normalized = append(normalized, item)
	}

	return normalized, nil
}

// normalizeEditorPaths validates and canonicalizes editor path list.
func normalizeEditorPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		canonical, err := normalizeArchivePath(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecordPath, raw)
		}

		out = append(out, canonical)
	}

	return out, nil
}

// buildEditPlan applies staged operations to source records and builds the
// final write plan, sorted by path for deterministic commits.
func buildEditPlan(sourceRecords []Record, ops []editOperation) ([]rewriteEntry, error) {
	state := make(map[string]rewriteEntry, len(sourceRecords))
	for i := range sourceRecords {
		path, err := normalizeArchivePath(sourceRecords[i].Filename)
		if err != nil {
			return nil, fmt.Errorf("%w: source record path %q", ErrInvalidRecordPath, sourceRecords[i].Filename)
		}

		if _, exists := state[path]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRecordPath, path)
		}

		rec := sourceRecords[i]
		rec.Filename = path
		state[path] = rewriteEntry{
			path:   path,
			source: &rec,
		}
	}

	for _, op := range ops {
		switch op.kind {
		case editOperationAdd:
			if err := applyEditAdd(state, op.inputs); err != nil {
				return nil, err
			}
		case editOperationReplace:
			if err := applyEditReplace(state, op.inputs); err != nil {
				return nil, err
			}
		case editOperationDelete:
			applyEditDelete(state, op.paths)
		case editOperationDeleteDir:
			applyEditDeleteDir(state, op.paths)
		default:
			return nil, fmt.Errorf("unknown edit operation kind: %d", op.kind)
		}
	}

	plan := make([]rewriteEntry, 0, len(state))
	for _, item := range state {
		plan = append(plan, item)
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].path < plan[j].path })

	return plan, nil
}

// applyEditAdd adds new records and fails on existing paths.
func applyEditAdd(state map[string]rewriteEntry, inputs []Input) error {
	for _, in := range inputs {
		if _, exists := state[in.Path]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateRecordPath, in.Path)
		}

		item := in
		state[in.Path] = rewriteEntry{
			path:  item.Path,
			input: &item,
		}
	}

	return nil
}

// applyEditReplace replaces existing records and fails on missing paths.
func applyEditReplace(state map[string]rewriteEntry, inputs []Input) error {
	for _, in := range inputs {
		if _, exists := state[in.Path]; !exists {
			return fmt.Errorf("%w: %q", ErrRecordNotFound, in.Path)
		}

		item := in
		state[in.Path] = rewriteEntry{
			path:  item.Path,
			input: &item,
		}
	}

	return nil
}

// applyEditDelete removes exact paths from state.
func applyEditDelete(state map[string]rewriteEntry, paths []string) {
	for _, path := range paths {
		delete(state, path)
	}
}

// applyEditDeleteDir removes records matching directory prefixes.
func applyEditDeleteDir(state map[string]rewriteEntry, prefixes []string) {
	for _, prefix := range prefixes {
		for key, item := range state {
			if item.path == prefix || strings.HasPrefix(item.path, prefix+"/") {
				delete(state, key)
			}
		}
	}
}

// prepareBackupSlot rotates/removes existing backup generations before new commit.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	switch keep {
	case 0, 1:
		return removeIfExists(backupPath)
	default:
		oldest := fmt.Sprintf("%s.%d", backupPath, keep-1)
		if err := removeIfExists(oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backupPath, i)
			to := fmt.Sprintf("%s.%d", backupPath, i+1)
			if err := renameIfExists(from, to); err != nil {
				return err
			}
		}

		return renameIfExists(backupPath, backupPath+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) || err == nil {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup on failed commit.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
