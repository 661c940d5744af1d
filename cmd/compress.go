package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/intake"
	"github.com/compresr/shrinker/internal/pipeline"
)

// cliSession names the history records written by the compress command.
const cliSession = "cli"

var errNothingToCompress = errors.New("no acceptable images")

type compressOptions struct {
	level   string
	format  string
	outDir  string
	suggest bool
	paths   []string
}

// runCompress compresses files from disk and writes shrunk-* copies.
func runCompress(args []string) int {
	loadEnvFiles()

	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	var opts compressOptions
	fs.StringVar(&opts.level, "level", "", "compression level: low, medium, high (default medium)")
	fs.StringVar(&opts.format, "format", "", "target format: png, jpg (default from extension)")
	fs.StringVar(&opts.outDir, "o", ".", "output directory")
	fs.BoolVar(&opts.suggest, "suggest", false, "ask for a quality suggestion per file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: shrinker compress [options] FILES...")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args) // ExitOnError handles errors
	opts.paths = fs.Args()

	if len(opts.paths) == 0 {
		fs.Usage()
		return 2
	}
	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "compress: %v\n", err)
		return 2
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sconfig error%s (%s): %v\n", red, reset, source, err)
		return 1
	}
	prepareCLIConfig(cfg, opts, *debug)
	setupLogging(loggerConfig(cfg), *debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := compressFiles(ctx, cfg, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%scompress failed:%s %v\n", red, reset, err)
		return 1
	}
	return 0
}

func (o compressOptions) validate() error {
	if o.level != "" {
		if _, err := pipeline.ParseLevel(o.level); err != nil {
			return err
		}
	}
	if o.format != "" && !pipeline.ParseFormat(o.format).Supported() {
		return fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, o.format)
	}
	return nil
}

// prepareCLIConfig sends logs to stderr so stdout carries only the report.
func prepareCLIConfig(cfg *config.Config, opts compressOptions, debug bool) {
	cfg.Monitoring.LogOutput = "stderr"
	cfg.Monitoring.LogFormat = "console"
	if !debug {
		cfg.Monitoring.LogLevel = "warn"
	}
	if opts.suggest {
		cfg.Suggestions.Enabled = true
		if cfg.Suggestions.Mode == "" {
			cfg.Suggestions.Mode = config.SuggestionsBuiltin
		}
	}
}

// compressFiles runs one batch over opts.paths and writes the outputs.
func compressFiles(ctx context.Context, cfg *config.Config, opts compressOptions, out io.Writer) (pipeline.BatchSummary, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return pipeline.BatchSummary{}, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history")
		}
	}()

	picker := intake.NewPicker(cfg.Intake)
	candidates := make([]intake.Candidate, 0, len(opts.paths))
	for _, path := range opts.paths {
		c, err := intake.FromPath(path, picker.MaxFileSize())
		if err != nil {
			return pipeline.BatchSummary{}, err
		}
		candidates = append(candidates, c)
	}

	sources, rejections, err := picker.Pick(candidates)
	if err != nil {
		return pipeline.BatchSummary{}, err
	}
	for _, r := range rejections {
		fmt.Fprintf(out, "%sskipped%s %s: %s\n", dim, reset, r.Name, r.Reason)
	}
	if len(sources) == 0 {
		return pipeline.BatchSummary{}, errNothingToCompress
	}

	p := a.newPipeline(cliSession)
	defer p.Close()

	for _, f := range p.Admit(sources...) {
		if err := configure(p, f, opts); err != nil {
			return pipeline.BatchSummary{}, err
		}
	}
	if opts.suggest {
		p.Wait()
		printSuggestions(out, p.Files())
	}

	progress := newProgressPrinter(out, isTerminal(out), p.Len())
	unsubscribe := p.Subscribe(progress.listen)
	summary, err := p.CompressAll(ctx)
	unsubscribe()
	progress.finish()
	if err != nil {
		return summary, err
	}

	written, err := writeOutputs(p, opts.outDir)
	if err != nil {
		return summary, err
	}
	printReport(out, p.Files(), written, summary)
	return summary, nil
}

// configure applies the command-line level and format to one admitted file.
// With -suggest and no -level, the default level is set again so a
// suggestion is requested.
func configure(p *pipeline.Pipeline, f pipeline.File, opts compressOptions) error {
	switch {
	case opts.level != "":
		if _, err := p.SetConfiguration(f.ID, pipeline.KeyCompressionLevel, opts.level); err != nil {
			return err
		}
	case opts.suggest:
		p.SetCompressionLevel(f.ID, f.Level)
	}
	if opts.format != "" {
		if _, err := p.SetConfiguration(f.ID, pipeline.KeyTargetFormat, opts.format); err != nil {
			return err
		}
	}
	return nil
}

// writeOutputs stores every Done file under dir with its download name and
// returns the name used per file ID. Names already taken in this run get a
// numeric suffix: shrunk-photo.jpg, shrunk-photo-1.jpg, ...
func writeOutputs(p *pipeline.Pipeline, dir string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	written := make(map[string]string)
	taken := make(map[string]bool)
	for _, f := range p.Files() {
		if f.Status != pipeline.StatusDone {
			continue
		}
		d, err := p.PrepareDownload(f.ID)
		if err != nil {
			return written, err
		}
		name := uniqueName(d.Name, taken)
		taken[strings.ToLower(name)] = true

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, d.Data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written[f.ID] = name
		log.Debug().Str("path", path).Int("bytes", len(d.Data)).Msg("output written")
	}
	return written, nil
}

// uniqueName returns name, or name with the first free "-N" suffix before
// the extension. taken holds lower-cased names.
func uniqueName(name string, taken map[string]bool) string {
	if !taken[strings.ToLower(name)] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter renders file progress. On a terminal it redraws one line
// in place; otherwise it prints a line per status change.
type progressPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	total    int
	last     map[string]pipeline.Status
	drawn    bool
	finished int
}

func newProgressPrinter(out io.Writer, tty bool, total int) *progressPrinter {
	return &progressPrinter{out: out, tty: tty, total: total, last: make(map[string]pipeline.Status)}
}

func (pp *progressPrinter) listen(ev pipeline.Event) {
	if ev.Kind != pipeline.EventFileUpdated || ev.File == nil {
		return
	}
	f := ev.File

	pp.mu.Lock()
	defer pp.mu.Unlock()

	changed := pp.last[f.ID] != f.Status
	pp.last[f.ID] = f.Status
	if changed && f.Status.Terminal() {
		pp.finished++
	}

	if pp.tty {
		fmt.Fprintf(pp.out, "\r\033[K%s[%d/%d]%s %s %3d%%", compresrGreen, pp.finished, pp.total, reset, f.Name, f.Progress)
		pp.drawn = true
		return
	}
	if changed {
		fmt.Fprintf(pp.out, "%-12s %s\n", f.Status, f.Name)
	}
}

func (pp *progressPrinter) finish() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.drawn {
		fmt.Fprint(pp.out, "\r\033[K")
	}
}

func printSuggestions(out io.Writer, files []pipeline.File) {
	for _, f := range files {
		if f.Suggestion == nil {
			continue
		}
		fmt.Fprintf(out, "%s%s%s quality %d: %s\n", bold, f.Name, reset, f.Suggestion.Quality, f.Suggestion.OptimizationStrategy)
	}
}

// printReport prints one row per file and a totals line. written maps file
// IDs to the output names on disk.
func printReport(out io.Writer, files []pipeline.File, written map[string]string, summary pipeline.BatchSummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tORIGINAL\tOUTPUT\tSAVED\tSTATUS")
	for _, f := range files {
		switch f.Status {
		case pipeline.StatusDone:
			s := pipeline.ComputeSavings(f.SourceSize, f.OutputSize)
			status := "done"
			if f.AlreadyOptimized {
				status = "already optimized"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s\n",
				written[f.ID],
				humanize.IBytes(uint64(s.Original)),
				humanize.IBytes(uint64(s.Output)),
				s.PercentString(),
				status)
		case pipeline.StatusError:
			fmt.Fprintf(tw, "%s\t%s\t-\t-\terror: %s\n", f.Name, humanize.IBytes(uint64(f.SourceSize)), f.Error)
		default:
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\n", f.Name, humanize.IBytes(uint64(f.SourceSize)), f.Status)
		}
	}
	_ = tw.Flush()

	total := pipeline.ComputeSavings(summary.BytesIn, summary.BytesOut)
	fmt.Fprintf(out, "\n%d done, %d failed, %d already optimized in %s; %s -> %s (%s%% saved)\n",
		summary.Done, summary.Failed, summary.AlreadyOptimized,
		summary.Duration.Round(time.Millisecond),
		humanize.IBytes(uint64(total.Original)),
		humanize.IBytes(uint64(total.Output)),
		total.PercentString())
}
