package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/formats"
	"cleanconvert/internal/logging"
)

func formatsCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("formats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	useVips := fs.Bool("vips", true, "probe libvips encoders")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	log := logging.NewWithWriter(stderr, logging.LevelWarn, "")
	vips := false
	if *useVips {
		if err := convert.InitVips(log); err == nil {
			vips = true
			defer convert.ShutdownVips(log)
		}
	}
	engine := convert.NewEngine(convert.Options{Logger: log, Vips: vips})

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tMEDIA TYPE\tLOSSY\tNATIVE")
	for _, s := range engine.Capabilities().Report() {
		native := "yes"
		if !s.Native {
			native = "no (falls back to " + formats.Extension(formats.Fallback) + ")"
		}
		lossy := "no"
		if s.Lossy {
			lossy = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.MediaType, lossy, native)
	}
	if err := tw.Flush(); err != nil {
		return exitRuntime
	}
	return exitOK
}
