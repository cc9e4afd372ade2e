// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

/*
Package upak provides read, unpack, pack, verify, and edit operations for
Unreal Engine 4 pak archives (index versions 1-3). It is designed for
streaming workflows: packing accepts caller-provided streams (Input.Open),
and reading/unpacking works without loading full archive payload into memory.

Format rules (summary):
  - the 44-byte footer at the end of the file carries magic, version,
    index offset/size and the index SHA-1;
  - record payloads precede the index; record offsets address stored bytes;
  - version 1 records carry a timestamp, version 3 records carry a
    compression block table when compressed;
  - record SHA-1 digests cover the stored (possibly compressed) bytes.

# Reading

Open a pak and list or read records:

	r, err := upak.Open("game.pak")
	if err != nil {
	    return err
	}
	defer r.Close()
	for _, rec := range r.Records() {
	    data, _ := r.ReadRecord(rec.Filename)
	    // use data
	}

For metadata-only scans, use fast helpers without keeping a reader:

	pak, err := upak.ParseFile("game.pak", upak.Options{})
	if err != nil {
	    return err
	}
	records, err := upak.ListRecords("game.pak", upak.Options{})
	if err != nil {
	    return err
	}
	_, _ = pak, records

For damaged archives with a zeroed footer, force the parse:

	r, err := upak.OpenWithOptions("game.pak", upak.Options{
	    IgnoreMagic:  true,
	    ForceVersion: 3,
	})
	if err != nil {
	    return err
	}
	defer r.Close()

# Verifying

Check the index digest and every record digest against stored values:

	mismatches, err := r.Check(upak.CheckOptions{
	    OnMismatch: func(m upak.Mismatch) {
	        // report m.Filename
	    },
	})
	if err != nil {
	    return err
	}
	_ = mismatches

# Unpacking

Unpack records to a directory (parallel workers):

	if err := r.Unpack(ctx, "out/", upak.UnpackOptions{MaxWorkers: 4}); err != nil {
	    return err
	}

Select records with github.com/woozymasta/pathrules filters:

	filter, err := upak.NewFilter([]pathrules.Rule{
	    {Action: pathrules.ActionInclude, Pattern: "textures/**"},
	}, pathrules.MatcherOptions{})
	if err != nil {
	    return err
	}
	if err := r.Unpack(ctx, "out/", upak.UnpackOptions{Filter: filter}); err != nil {
	    return err
	}

# Packing

Pack from stream-oriented inputs (index order follows input order):

	inputs := []upak.Input{
	    {Path: "config/engine.ini", Open: func() (io.ReadCloser, error) { return os.Open("src/engine.ini") }},
	}
	pak, err := upak.Pack(ctx, outFile, inputs, upak.PackOptions{
	    Version:     upak.Version3,
	    Compression: upak.CompressionZlib,
	    OnRecordDone: func(rec upak.Record) {
	        // progress callback per written record
	    },
	})
	_ = pak

To write to a path directly:

	pak, err := upak.PackFile(ctx, "game.pak", inputs, opts)

To edit an existing archive in one transaction:

	editor, err := upak.OpenEditor("game.pak", upak.EditOptions{
	    BackupKeep: 1,
	})
	if err != nil {
	    return err
	}
	if err := editor.Replace(upak.Input{
	    Path: "config/engine.ini",
	    Open: func() (io.ReadCloser, error) { return os.Open("engine.ini") },
	}); err != nil {
	    return err
	}
	if _, err := editor.Commit(ctx); err != nil {
	    return err
	}
*/
package upak
