package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/ingest"
	"cleanconvert/internal/validate"
)

func watchCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	o.register(fs)
	in := fs.String("in", "", "directory to watch (required)")
	delay := fs.Duration("delay", ingest.DefaultStabilityDelay, "quiet period before a new file is read")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: cleanconvert watch -in DIR [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *in == "" {
		fs.Usage()
		return exitUsage
	}

	// A single file at a time; zip bundles may add more.
	p, err := newPipeline(ctx, &o, pipelineOptions{maxItems: batch.DefaultMaxItems}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer p.Close()

	w, err := ingest.NewWatcher(ingest.WatcherConfig{
		Roots:          []string{*in},
		StabilityDelay: *delay,
		SkipHidden:     true,
		Logger:         p.log,
	}, p.walker)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	defer func() { _ = w.Close() }()

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()
	fmt.Fprintf(stdout, "Watching %s, writing to %s (Ctrl+C to stop)\n", *in, o.outDir)

	for f := range w.Files() {
		convertOne(ctx, p, f, o.outDir, stdout, stderr)
	}

	if err := <-runErr; err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	return exitOK
}

// convertOne runs a single file through the batch, writes the result and
// clears the batch so memory does not grow while watching.
func convertOne(ctx context.Context, p *pipeline, f validate.File, outDir string, stdout, stderr io.Writer) {
	defer p.batch.Clear()

	start := time.Now()
	addFiles(ctx, p.batch, []validate.File{f}, stderr)
	if p.batch.Stats().Total == 0 {
		return
	}
	sum, err := p.batch.ProcessAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "fail  %s: %v\n", f.Name, err)
		return
	}
	for _, o := range sum.Outcomes {
		if o.Outcome != batch.OutcomeCompleted {
			fmt.Fprintf(stderr, "fail  %s: %s\n", o.Name, o.Reason)
		}
	}

	downloads, _ := p.batch.DownloadAllIndividually()
	for _, d := range downloads {
		path, err := writeDownload(outDir, d)
		if err != nil {
			fmt.Fprintf(stderr, "fail  %s: %v\n", d.FileName, err)
			continue
		}
		fmt.Fprintf(stdout, "ok    %s -> %s (%v)\n", f.Name, path, time.Since(start).Round(time.Millisecond))
	}
}
