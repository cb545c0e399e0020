// Command tle-fetcher retrieves, validates and caches two-line element sets,
// ingests whole catalogs and propagates stored records.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: tle-fetcher <command> [flags]

commands:
  fetch      resolve NORAD ids through cache, repository and network
  discover   ingest a catalog listing into the discovery database
  report     summarise the file repository as JSON
  propagate  propagate a record with SGP4

Run "tle-fetcher <command> --help" for command flags.
`

// app carries the process environment so commands can run in tests.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	getenv    func(string) string
	transport source.Transport
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := newApp().run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func newApp() *app {
	return &app{stdout: os.Stdout, stderr: os.Stderr, getenv: os.Getenv}
}

func (a *app) run(ctx context.Context, args []string) int {
	cmd := "fetch"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "fetch":
		return a.fetch(ctx, args)
	case "discover":
		return a.discover(ctx, args)
	case "report":
		return a.report(ctx, args)
	case "propagate":
		return a.propagate(ctx, args)
	case "help":
		fmt.Fprint(a.stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}
}

// parseFlags returns a non-negative exit code when the command must stop.
func (a *app) parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, true
		}
		return exitUsage, true
	}
	return 0, false
}

func (a *app) errorf(format string, args ...any) {
	fmt.Fprintf(a.stderr, "error: "+format+"\n", args...)
}

func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(a.stderr, "warning: "+format+"\n", args...)
}
