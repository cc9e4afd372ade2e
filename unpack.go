// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// unpackWorkItem stores one selected record with its prepared output paths.
type unpackWorkItem struct {
	relPath string
	relDir  string
	rec     Record
}

// Unpack writes selected records from the pak to dstDir, decompressing as
// needed. Extraction is parallelized by MaxWorkers; payload reads go through
// ReadAt and are safe to issue concurrently on one handle. On failure it
// returns the first encountered error.
func (r *Reader) Unpack(ctx context.Context, dstDir string, opts UnpackOptions) error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}
	if r.isClosed() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	records := selectRecords(r.pak.Records, opts.Filter)
	if len(records) == 0 {
		return nil
	}

	if opts.CheckIntegrity {
		count, err := r.Check(CheckOptions{
			AbortOnError:        true,
			IgnoreNullChecksums: opts.IgnoreNullChecksums,
			Filter:              opts.Filter,
		})
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %d error(s) before unpack", ErrChecksumMismatch, count)
		}
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	workItems, err := prepareUnpackWorkItems(records, opts.DirnameFromCompression)
	if err != nil {
		return err
	}

	if err := prepareUnpackDirs(dstRootAbs, workItems); err != nil {
		return err
	}

	taskCh := make(chan unpackWorkItem, len(workItems))
	errCh := make(chan error, len(workItems))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Go(func() {
			buf := make([]byte, defaultChunkSize)
			for task := range taskCh {
				// errCh is buffered to hold one result per work item, so
				// this send never blocks.
				errCh <- r.unpackPreparedRecord(ctx, dstRootAbs, task, buf, opts.OnRecordDone)
			}
		})
	}

	for _, task := range workItems {
		select {
		case <-ctx.Done():
			close(taskCh)
			wg.Wait()
			return ctx.Err()
		case taskCh <- task:
		}
	}

	close(taskCh)
	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}

// selectRecords applies the caller's path filter.
func selectRecords(records []Record, filter Filter) []Record {
	if filter == nil {
		return records
	}

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if filter(rec.Filename) {
			out = append(out, rec)
		}
	}

	return out
}

// prepareUnpackWorkItems validates selected records and prepares relative
// filesystem paths. A record whose path would escape the destination root
// fails the whole unpack before anything is written.
func prepareUnpackWorkItems(records []Record, dirnameFromCompression bool) ([]unpackWorkItem, error) {
	workItems := make([]unpackWorkItem, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Filename) == "" {
			continue
		}

		normalizedPath, err := normalizeUnpackPath(rec.Filename)
		if err != nil {
			return nil, err
		}

		if dirnameFromCompression && rec.IsCompressed() {
			normalizedPath = rec.CompressionMethod.String() + "/" + normalizedPath
		}

		relPath := filepath.FromSlash(normalizedPath)
		relDir := filepath.Dir(relPath)
		if relDir == "." {
			relDir = ""
		}

		workItems = append(workItems, unpackWorkItem{
			rec:     rec,
			relPath: relPath,
			relDir:  relDir,
		})
	}

	return workItems, nil
}

// prepareUnpackDirs creates all unique parent directories needed by work items.
func prepareUnpackDirs(dstRootAbs string, workItems []unpackWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		if _, exists := seen[dirPath]; exists {
			continue
		}

		seen[dirPath] = struct{}{}
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dirPath, err)
		}
	}

	return nil
}

// unpackPreparedRecord writes one prepared work item to the destination root.
func (r *Reader) unpackPreparedRecord(
	ctx context.Context,
	dstRootAbs string,
	task unpackWorkItem,
	buf []byte,
	onRecordDone func(rec Record, written int64, outputPath string),
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	outPath := filepath.Join(dstRootAbs, task.relPath)

	file, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", task.rec.Filename, err)
	}

	written, copyErr := writeRecordPayload(file, r.ra, &task.rec, buf)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("write %s: %w", task.rec.Filename, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", task.rec.Filename, closeErr)
	}

	if onRecordDone != nil {
		onRecordDone(task.rec, written, outPath)
	}

	return nil
}
