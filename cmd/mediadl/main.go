package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/client"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/dispatch"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/poller"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const usage = `Usage: mediadl [flags] <command> [args]

Commands:
  health              show the server's status and capabilities
  formats <url>       list the formats of a video
  links <url>         list directly downloadable streams
  get <url>           download a video
  batch <file|url...> download several videos one at a time; "-" reads stdin

Flags:
`

// cli holds what the commands share
type cli struct {
	cfg     *config.Config
	logger  *logging.Logger
	api     *client.Client
	session *dispatch.Session
	out     io.Writer
	errOut  io.Writer

	format   string
	quality  string
	category string
	sortBy   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("mediadl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	c := &cli{out: stdout, errOut: stderr}
	configPath := fs.StringP("config", "c", os.Getenv("CONFIG_PATH"), "config file (yaml)")
	fs.StringVarP(&c.format, "format", "f", "mp4", "container: mp4, webm, mkv, mp3, m4a")
	fs.StringVarP(&c.quality, "quality", "q", "best", "quality, e.g. 720p or 192kbps")
	fs.StringVar(&c.category, "category", "", "format filter: all, hd, fhd, 2k, 4k, 8k, audio-high")
	fs.StringVar(&c.sortBy, "sort", "", "format order: quality, size, format")
	fs.String("client.baseURL", "http://localhost:8080", "download API base URL")
	fs.String("client.outputDir", ".", "directory for saved files")
	fs.Duration("client.batchPause", time.Second, "pause between batch items")
	fs.String("logging.level", "info", "log level")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, "mediadl", version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadWithFlags(*configPath, fs)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	c.setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "health":
		err = c.health(ctx)
	case "formats":
		err = c.formats(ctx, rest)
	case "links":
		err = c.links(ctx, rest)
	case "get":
		err = c.get(ctx, rest)
	case "batch":
		err = c.batch(ctx, rest, stdin)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintln(stderr, "error:", describeError(err))
		return 1
	}
	return 0
}

func (c *cli) setup(cfg *config.Config) {
	c.cfg = cfg
	c.logger = logging.New(c.errOut, cfg.Logging.Level)

	c.api = client.New(client.Config{
		BaseURL:              cfg.Client.BaseURL,
		Timeout:              cfg.Client.Timeout,
		MinInterval:          cfg.Client.MinInterval,
		MaxBackoffMultiplier: int(cfg.Client.MaxBackoffMultiplier),
		UserAgent:            "mediadl/" + version,
	},
		client.WithLogger(c.logger),
		client.WithRetryPolicy(client.RetryPolicy{
			MaxAttempts: cfg.Client.MaxAttempts,
			BaseDelay:   cfg.Client.BaseDelay,
			MaxDelay:    cfg.Client.MaxDelay,
			Jitter:      client.EqualJitter,
		}),
	)

	presenter := newTerminalPresenter(c.errOut)
	strategies := dispatch.DefaultStrategies(
		c.api,
		dispatch.NewDirSink(cfg.Client.OutputDir),
		&http.Client{Timeout: cfg.Client.Timeout},
		presenter,
	)
	dispatcher := dispatch.NewDispatcher(strategies, presenter, c.logger)

	pcfg := poller.DefaultConfig()
	if cfg.Poller.Interval > 0 {
		pcfg.Interval = cfg.Poller.Interval
	}
	if cfg.Poller.MaxAttempts > 0 {
		pcfg.MaxAttempts = cfg.Poller.MaxAttempts
	}
	if cfg.Poller.SimulatedInterval > 0 {
		pcfg.SimulatedInterval = cfg.Poller.SimulatedInterval
	}
	p := poller.New(c.api, pcfg, poller.WithLogger(c.logger))

	c.session = dispatch.NewSession(c.api, dispatcher, p,
		dispatch.WithBatchPause(cfg.Client.BatchPause),
		dispatch.WithSessionLogger(c.logger),
	)
}

func (c *cli) health(ctx context.Context) error {
	h, err := c.api.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s (version %s, up %s)\n", h.Status, h.Version, h.Uptime)
	fmt.Fprintf(c.out, "extractors: %s\n", strings.Join(h.Extractors, ", "))
	fmt.Fprintf(c.out, "muxing: %t\n", h.Muxing)
	for name, state := range h.Checks {
		fmt.Fprintf(c.out, "%s: %s\n", name, state)
	}
	return nil
}

func oneURL(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one url")
	}
	return args[0], nil
}

func (c *cli) formats(ctx context.Context, args []string) error {
	url, err := oneURL(args)
	if err != nil {
		return err
	}
	if _, err := formats.ParseCategory(c.category); err != nil {
		return err
	}
	if _, err := formats.ParseSortKey(c.sortBy); err != nil {
		return err
	}
	meta, err := c.api.Metadata(ctx, models.MetadataRequest{URL: url, Category: c.category, SortBy: c.sortBy})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s by %s\n\n", meta.Title, dash(meta.Uploader))
	if err := printFormats(c.out, "Video", meta.VideoFormats); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return printFormats(c.out, "Audio", meta.AudioFormats)
}

func (c *cli) links(ctx context.Context, args []string) error {
	url, err := oneURL(args)
	if err != nil {
		return err
	}
	resp, err := c.api.ExtractLinks(ctx, models.ExtractLinksRequest{URL: url, Format: c.format, Quality: c.quality})
	if err != nil {
		return err
	}

	printStats(c.out, resp.QualityStats)
	for _, f := range append(resp.VideoFormats, resp.AudioFormats...) {
		fmt.Fprintf(c.out, "%s\t%s\t%s\n", f.ID, dash(f.Quality), f.DirectURL)
	}
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	url, err := oneURL(args)
	if err != nil {
		return err
	}
	meta, err := c.api.Metadata(ctx, models.MetadataRequest{URL: url})
	if err != nil {
		return err
	}
	format, ok := dispatch.ChooseFormat(meta, c.format, c.quality)
	if !ok {
		return fmt.Errorf("no format matches %s %s", c.format, c.quality)
	}

	stopWatch := c.watch(ctx)
	delivery, err := c.session.Download(ctx, url, format, c.format, c.quality, meta.Title)
	if err != nil {
		stopWatch()
		return err
	}
	c.session.Wait()
	stopWatch()

	fmt.Fprintln(c.out, describeDelivery(delivery))
	return nil
}

func (c *cli) batch(ctx context.Context, args []string, stdin io.Reader) error {
	urls, err := batchURLs(args, stdin)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no urls given")
	}

	stopWatch := c.watch(ctx)
	results, err := c.session.Batch(ctx, urls, c.format, c.quality)
	c.session.Wait()
	stopWatch()

	if perr := printBatch(c.out, results); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return errors.New("some downloads failed")
		}
	}
	return nil
}

// batchURLs reads urls from the arguments, or from a file or stdin when the
// single argument is not a url
func batchURLs(args []string, stdin io.Reader) ([]string, error) {
	if len(args) != 1 || strings.Contains(args[0], "://") {
		return args, nil
	}

	r := stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// watch prints task snapshots to stderr as they change
func (c *cli) watch(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		last := map[string]string{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, t := range c.session.Tasks() {
					line := progressLine(t)
					if last[t.ID] == line {
						continue
					}
					last[t.ID] = line
					fmt.Fprintln(c.errOut, line)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func progressLine(t models.DownloadTask) string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	line := fmt.Sprintf("%s %-12s %5.1f%%", id, t.Status, t.Progress)
	if t.Speed != "" {
		line += "  " + t.Speed
	}
	if t.ETA != "" {
		line += "  eta " + t.ETA
	}
	if t.FileSize != "" {
		line += "  " + t.FileSize
	}
	if !t.RealTime {
		line += "  (estimated)"
	}
	return line
}

func describeError(err error) string {
	var failure *dispatch.Failure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	if apiErr, ok := client.AsAPIError(err); ok && apiErr.Suggestion != "" {
		return apiErr.Error() + " (" + apiErr.Suggestion + ")"
	}
	return err.Error()
}
