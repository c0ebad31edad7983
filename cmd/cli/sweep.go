package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/catalog"
	"github.com/hamed0406/modelstatus/internal/config"
	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/healthcheck"
	"github.com/hamed0406/modelstatus/internal/openrouter"
	"github.com/hamed0406/modelstatus/internal/probe"
)

const SweepHelp = `modelstatus-cli - Probe every free model once and print a status report

Usage: modelstatus-cli [OPTIONS...]

OPTIONS:
  -c, --concurrency=NUM   Probes in flight per batch. (default from PROBE_CONCURRENCY)
  -t, --timeout=DURATION  Per-attempt probe timeout. (default from PROBE_TIMEOUT_MS)
  -r, --retries=NUM       Retries for rate-limited probes. (default from PROBE_MAX_RETRIES)
      --delay=DURATION    Pause between batches. (default from PROBE_BATCH_DELAY_MS)
  -m, --models=IDS        Comma separated model ids to probe instead of the whole catalog.
  -f, --models-file=PATH  YAML model list to probe instead of the API catalog.
  -j, --json              Print the final run as JSON.
  -q, --quiet             No progress bar.
  -h, --help              Show this help message and exit.

Exit status is 0 when healthy, 1 when degraded, 2 when down, 3 on error and
130 when interrupted.
`

const (
	exitHealthy     = 0
	exitDegraded    = 1
	exitDown        = 2
	exitError       = 3
	exitInterrupted = 130
)

type ModelSource interface {
	Models(ctx context.Context) ([]domain.ServiceRef, error)
}

// SweepCommand runs one sweep in the foreground.
type SweepCommand struct {
	OutStream io.Writer
	ErrStream io.Writer
	Config    config.Config

	// Prober and Models replace the API-backed defaults when set.
	Prober probe.Prober
	Models ModelSource
	Logger *zap.Logger
}

func (c SweepCommand) Run(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("modelstatus-cli", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)

	concurrency := flags.IntP("concurrency", "c", c.Config.Concurrency, "Probes in flight per batch")
	timeout := flags.DurationP("timeout", "t", c.Config.ProbeTimeout, "Per-attempt probe timeout")
	retries := flags.IntP("retries", "r", c.Config.MaxRetries, "Retries for rate-limited probes")
	delay := flags.Duration("delay", c.Config.BatchDelay, "Pause between batches")
	only := flags.StringSliceP("models", "m", nil, "Model ids to probe")
	modelsFile := flags.StringP("models-file", "f", c.Config.ModelsFile, "YAML model list")
	asJSON := flags.BoolP("json", "j", false, "Print the final run as JSON")
	quiet := flags.BoolP("quiet", "q", false, "No progress bar")
	help := flags.BoolP("help", "h", false, "Show this message and exit")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(c.ErrStream, err)
		fmt.Fprintln(c.ErrStream, "\nPlease see `modelstatus-cli -h` for more information.")
		return exitError
	}
	if *help {
		fmt.Fprint(c.OutStream, SweepHelp)
		return exitHealthy
	}

	cfg := c.Config
	cfg.Concurrency, cfg.ProbeTimeout, cfg.MaxRetries, cfg.BatchDelay = *concurrency, *timeout, *retries, *delay
	cfg.ModelsFile = *modelsFile

	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	prober, source, err := c.wire(cfg, log)
	if err != nil {
		fmt.Fprintf(c.ErrStream, "error: %s\n", err)
		return exitError
	}

	services, err := source.Models(ctx)
	if err != nil {
		fmt.Fprintf(c.ErrStream, "error: failed to load models: %s\n", err)
		return exitError
	}
	if len(*only) > 0 {
		services = filter(services, *only)
		if len(services) == 0 {
			fmt.Fprintln(c.ErrStream, "error: none of the requested models are in the catalog")
			return exitError
		}
	}

	opts := cfg.ProbeOptions(log)
	var bar *progressBar
	if !*quiet && isTerminal(c.ErrStream) {
		bar = newProgressBar(c.ErrStream, 30)
		opts.OnProgress = bar.Update
	}

	run, err := healthcheck.Start(ctx, services, prober, opts)
	if err != nil {
		fmt.Fprintf(c.ErrStream, "error: %s\n", err)
		return exitError
	}
	final, err := run.Wait(context.WithoutCancel(ctx))
	if bar != nil {
		bar.Done()
	}

	if *asJSON {
		enc := json.NewEncoder(c.OutStream)
		enc.SetIndent("", "  ")
		_ = enc.Encode(final)
	} else {
		report(c.OutStream, final)
	}

	switch {
	case errors.Is(err, healthcheck.ErrCancelled):
		fmt.Fprintln(c.ErrStream, "interrupted")
		return exitInterrupted
	case err != nil:
		fmt.Fprintf(c.ErrStream, "error: %s\n", err)
		return exitError
	}
	switch final.Status {
	case domain.StatusHealthy:
		return exitHealthy
	case domain.StatusDegraded:
		return exitDegraded
	default:
		return exitDown
	}
}

func (c SweepCommand) wire(cfg config.Config, log *zap.Logger) (probe.Prober, ModelSource, error) {
	prober, source := c.Prober, c.Models

	var client *openrouter.Client
	if prober == nil || (source == nil && cfg.ModelsFile == "") {
		client = openrouter.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterKey)
		client.Referer = cfg.OpenRouterReferer
	}
	if prober == nil {
		prober = probe.NewCompletionProber(client, cfg.ProbeTimeout)
	}
	if source == nil {
		cat := catalog.New(client, cfg.CatalogCache, cfg.CatalogTTL, log)
		if cfg.ModelsFile != "" {
			static, err := catalog.LoadStatic(cfg.ModelsFile)
			if err != nil {
				return nil, nil, err
			}
			cat.Static = static
		}
		source = cat
	}
	return prober, source, nil
}

func filter(services []domain.ServiceRef, ids []string) []domain.ServiceRef {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = true
	}
	var out []domain.ServiceRef
	for _, s := range services {
		if want[string(s.ID)] {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// report prints one line per model and the banner.
func report(w io.Writer, run domain.BatchRun) {
	width := 0
	for _, o := range run.Outcomes {
		width = max(width, len(o.Service.ID))
	}
	for _, o := range run.Outcomes {
		mark, detail := "…", "pending"
		switch o.State {
		case domain.StateSuccess:
			mark, detail = "✔", "ok"
		case domain.StateFailure:
			mark, detail = "✖", o.Error
		}
		if o.LatencyMS != nil {
			detail += fmt.Sprintf(" (%d ms)", *o.LatencyMS)
		}
		fmt.Fprintf(w, "%s %-*s  %s\n", mark, width, o.Service.ID, detail)
	}
	fmt.Fprintf(w, "\n%s: %d/%d models responding", run.Status.Banner(), run.Succeeded, run.Total)
	if run.FinishedAt != nil {
		fmt.Fprintf(w, " in %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
}
