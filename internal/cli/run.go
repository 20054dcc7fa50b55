package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/notruri/pahe/client"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Run executes one command and returns the process exit code. Results go
// to stdout; logs and progress go to stderr.
func Run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	opts, err := Parse(args, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "pahe: %v\n\n", err)
		Usage(stderr, opts.Command)
		return exitUsage
	}
	if opts.Help {
		Usage(stdout, opts.Command)
		return exitOK
	}

	logger := NewLogger(stderr, opts.Verbose)
	cfg, err := ToClientConfig(opts)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	cfg.Logger = logger
	if opts.Verbose {
		cfg.OnDownloadEvent = func(ev client.DownloadEvent) {
			logger.Debugf("%s", formatDownloadEvent(ev))
		}
	}
	var progress *Progress
	if opts.Command == CommandDownload {
		progress = NewProgress(stderr)
		cfg.Progress = progress
	}
	c := client.New(cfg)

	switch opts.Command {
	case CommandResolve:
		err = runResolve(ctx, c, opts, stdout)
	case CommandDownload:
		err = runDownload(ctx, c, opts, logger, progress)
	}
	if err != nil {
		logger.Errorf("%s: %v", client.KindOf(err), err)
		return exitError
	}
	return exitOK
}

func runResolve(ctx context.Context, c *client.Client, opts Options, stdout io.Writer) error {
	policy, err := SelectionPolicy(opts)
	if err != nil {
		return err
	}
	media, err := c.Resolve(ctx, opts.URL, policy)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, media.URL)
	for _, line := range formatHeaders(media) {
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func runDownload(ctx context.Context, c *client.Client, opts Options, logger *Logger, progress *Progress) error {
	dl := client.DownloadOptions{
		OutputPath:     opts.Output,
		OutputDir:      opts.Dir,
		Concurrency:    opts.Connections,
		NoResume:       opts.NoContinue,
		ExpectedSHA256: opts.SHA256,
	}
	var (
		res *client.DownloadResult
		err error
	)
	if opts.Direct != "" {
		res, err = c.DownloadURL(ctx, opts.Direct, dl)
	} else {
		policy, perr := SelectionPolicy(opts)
		if perr != nil {
			return perr
		}
		res, err = c.ResolveAndDownload(ctx, opts.URL, policy, dl)
	}
	progress.Finish()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warnf("interrupted; rerun the same command to resume")
		}
		return err
	}
	logger.Successf("%s", formatResult(res))
	return nil
}

func formatHeaders(media *client.ResolvedMedia) []string {
	keys := make([]string, 0, len(media.Headers))
	for k := range media.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: %s", k, strings.Join(media.Headers[k], ", ")))
	}
	return out
}

func formatResult(res *client.DownloadResult) string {
	parts := []string{res.OutputPath, formatBytes(res.TotalSize)}
	if res.Variant != nil {
		parts = append(parts, res.Variant.String())
	}
	if res.Resumed {
		parts = append(parts, "resumed")
	}
	if res.SHA256 != "" {
		parts = append(parts, "sha256 "+res.SHA256)
	}
	return strings.Join(parts, "  ")
}

func formatDownloadEvent(ev client.DownloadEvent) string {
	parts := []string{fmt.Sprintf("[download] %s:%s", ev.Stage, ev.Phase)}
	if ev.URL != "" {
		parts = append(parts, "url="+ev.URL)
	}
	if ev.Path != "" {
		parts = append(parts, "path="+ev.Path)
	}
	if ev.Detail != "" {
		parts = append(parts, "detail="+ev.Detail)
	}
	return strings.Join(parts, " ")
}
