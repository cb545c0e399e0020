package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/internal/report"
	"github.com/signalsfoundry/tle-fetcher/internal/repository"
)

func (a *app) report(ctx context.Context, args []string) int {
	var (
		common commonFlags
		output string
	)
	fs := pflag.NewFlagSet("report", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVarP(&output, "output", "o", "-", "destination file, - for stdout")
	if code, stop := a.parseFlags(fs, args); stop {
		return code
	}

	sess, err := a.setup(ctx, &common)
	if err != nil {
		a.errorf("%v", err)
		return exitUsage
	}
	defer sess.close()

	repo, err := repository.NewFile(sess.cfg.RepositoryDir())
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	summary, err := report.Generate(ctx, repo, time.Now())
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}

	if output == "-" {
		if err := report.Write(a.stdout, summary); err != nil {
			a.errorf("%v", err)
			return exitFailure
		}
		return exitOK
	}
	f, err := os.Create(output)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	if err := report.Write(f, summary); err != nil {
		f.Close()
		a.errorf("%v", err)
		return exitFailure
	}
	if err := f.Close(); err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	fmt.Fprintf(a.stderr, "wrote report for %d entries to %s\n", summary.Count, output)
	return exitOK
}
