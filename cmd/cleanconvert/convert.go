package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/validate"
)

func convertCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	o.register(fs)
	asZip := fs.Bool("zip", false, "write one zip archive instead of individual files")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: cleanconvert convert [flags] <files or directories...>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	prog := newProgress(stdout)
	p, err := newPipeline(ctx, &o, pipelineOptions{maxItems: math.MaxInt32, onTransition: prog.transition}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer p.Close()

	files, failures, err := p.walker.Walk(ctx, fs.Args()...)
	for _, f := range failures {
		fmt.Fprintf(stderr, "skip  %s\n", f.Error())
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	failed := len(failures)
	failed += addFiles(ctx, p.batch, files, stderr)
	if p.batch.Stats().Total == 0 {
		fmt.Fprintln(stderr, "No images to convert.")
		return exitFailed
	}

	prog.setTotal(p.batch.Stats().Pending)
	sum, err := p.batch.ProcessAll(ctx)
	prog.finish()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	failed += sum.Failed + sum.Dropped

	written, err := writeOutputs(ctx, p.batch, o.outDir, *asZip, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to write output: %v\n", err)
		return exitRuntime
	}

	printSummary(stdout, p.batch.Stats(), written, o.outDir)
	if failed > 0 {
		return exitFailed
	}
	return exitOK
}

// addFiles adds files to the batch, prints rejections and returns how many
// there were.
func addFiles(ctx context.Context, b *batch.Batch, files []validate.File, stderr io.Writer) int {
	report := b.AddFiles(ctx, files)
	for _, r := range report.Rejected {
		name := r.Name
		if r.Source != "" {
			name = r.Source + ":" + r.Name
		}
		fmt.Fprintf(stderr, "reject %s: %s\n", name, r.Reason)
	}
	return len(report.Rejected)
}

func writeOutputs(ctx context.Context, b *batch.Batch, outDir string, asZip bool, stdout io.Writer) (int, error) {
	if asZip {
		a, _, err := b.DownloadAllAsArchive(ctx)
		if err != nil {
			return 0, err
		}
		path, err := writeUnique(outDir, a.FileName, a.Data)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(stdout, "wrote %s (%d files)\n", path, a.Entries)
		return a.Entries, nil
	}

	downloads, _ := b.DownloadAllIndividually()
	for _, d := range downloads {
		if _, err := writeDownload(outDir, d); err != nil {
			return 0, err
		}
	}
	return len(downloads), nil
}

func printSummary(w io.Writer, s batch.Stats, written int, outDir string) {
	abs, err := filepath.Abs(outDir)
	if err != nil {
		abs = outDir
	}
	fmt.Fprintf(w, "Converted %d of %d, %d failed", s.Completed, s.Total, s.Failed)
	if s.Fallbacks > 0 {
		fmt.Fprintf(w, ", %d used the fallback format", s.Fallbacks)
	}
	fmt.Fprintln(w)
	if s.OriginalBytes > 0 {
		fmt.Fprintf(w, "Size %s -> %s (%.1f%% saved)\n", formatBytes(s.OriginalBytes), formatBytes(s.OutputBytes), s.SavingsPercent)
	}
	if written > 0 {
		fmt.Fprintf(w, "Output in %s\n", abs)
	}
}
