// Package main (in watermarkctl-subfolder) is the command-line tool for watermarks:
// local apply/layout without any infrastructure, plus owner and photo management against the stack.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"apply":         {"watermark local files: apply --asset wm.png [--config @cfg.json] [--out dir] photo...", runApply},
	"layout":        {"print the placement plan as JSON: layout --width W --height H (--asset wm.png | --owner O)", runLayout},
	"set-watermark": {"store owner's watermark: set-watermark --owner O --asset wm.png [--config @cfg.json]", runSetWatermark},
	"set-config":    {"replace owner's config only: set-config --owner O --config @cfg.json", runSetConfig},
	"upload":        {"register photos and queue one job: upload --owner O --gallery G photo...", runUpload},
	"status":        {"print photo record: status --id UUID", runStatus},
	"fetch":         {"download the result: fetch --id UUID --out file [--preview]", runFetch},
	"delete":        {"delete photo record and blobs: delete --id UUID", runDelete},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: watermarkctl <command> [flags]")
	fmt.Fprintln(w)

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}
