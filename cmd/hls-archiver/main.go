package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hls-archiver/internal/archive"
	"hls-archiver/internal/download"
	"hls-archiver/internal/orchestrator"
	"hls-archiver/internal/platform/config"
	"hls-archiver/internal/platform/httpclient"
	"hls-archiver/internal/platform/logger"
	"hls-archiver/internal/platform/metrics"
	"hls-archiver/internal/remux"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var errJobsFailed = errors.New("some jobs failed")

var (
	configFile string
	name       string
	headers    []string
	flagCfg    config.Config
)

// loadConfig layers defaults, the YAML file, .env and HLSA_* variables and
// finally the flags that were set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	_ = config.Load()

	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg.LoadFromEnv()

	override := flagCfg
	if cmd.Flags().Changed("verbose") {
		override.LogLevel = "debug"
	}
	if len(headers) > 0 {
		override.Headers = make(map[string]string, len(headers))
		for _, h := range headers {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return config.Config{}, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
			}
			override.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if name != "" && len(args) > 1 {
		return errors.New("--name can only be used with a single URL")
	}

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(httpclient.Options{
		Timeout:   cfg.RequestTimeout,
		Headers:   cfg.Headers,
		UserAgent: cfg.UserAgent,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	reqs := make([]orchestrator.Request, 0, len(args))
	for _, u := range args {
		reqs = append(reqs, orchestrator.Request{Name: name, URL: u})
	}

	repo := orchestrator.NewInMemoryRepository()
	met := metrics.New()
	opts := orchestrator.Options{
		Dir:          cfg.Directory,
		Format:       cfg.Format,
		SkipDownload: cfg.SkipDownload,
		SkipConvert:  cfg.SkipConvert,
		Download: download.Options{
			Workers:      cfg.Workers,
			Attempts:     cfg.Attempts,
			MaxRounds:    cfg.MaxRounds,
			PollInterval: cfg.PollInterval,
		},
		Remuxer: remux.Remuxer{FFmpegPath: cfg.FFmpegPath, Log: log},
		Metrics: met,
	}
	if cfg.Progress {
		opts.ProgressOutput = os.Stderr
	}
	if cfg.DownloadArchive != "" {
		a, err := archive.Open(ctx, cfg.DownloadArchive)
		if err != nil {
			return err
		}
		defer a.Close()
		opts.Archive = a
	}
	svc := orchestrator.NewService(repo, client, opts, log)

	if cfg.ListFormats {
		return listFormats(ctx, svc, reqs, log)
	}

	if cfg.StatusAddr != "" {
		srv := newStatusServer(cfg.StatusAddr, svc, repo, met, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("status server error", "error", err)
			}
		}()
		log.Info("status server starting", "addr", cfg.StatusAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("shutdown error", "error", err)
			}
		}()
	}

	log.Info("starting batch",
		"jobs", len(reqs),
		"directory", cfg.Directory,
		"format", cfg.Format,
		"workers", cfg.Workers,
		"log_level", cfg.LogLevel,
	)
	failed := svc.RunBatch(ctx, reqs)
	log.Info("batch finished", "jobs", len(reqs), "failed", failed)

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, failed, len(reqs))
	}
	return nil
}

func listFormats(ctx context.Context, svc *orchestrator.Service, reqs []orchestrator.Request, log *slog.Logger) error {
	failed := 0
	for _, req := range reqs {
		renditions, err := svc.ListFormats(ctx, req)
		if err != nil {
			log.Error("list formats failed", "url", req.URL, "error", err)
			failed++
			continue
		}
		if len(reqs) > 1 {
			fmt.Printf("%s\n", req.URL)
		}
		fmt.Print(orchestrator.FormatTable(renditions))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, failed, len(reqs))
	}
	return nil
}

func newStatusServer(addr string, svc *orchestrator.Service, repo orchestrator.Repository, met *metrics.Metrics, log *slog.Logger) *http.Server {
	log = log.With(slog.String("component", "status-server"))
	h := orchestrator.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Method(http.MethodGet, "/metrics", met.Handler(func() { met.SetActiveJobs(repo.ActiveJobCount()) }))
	h.Routes(r)

	return &http.Server{Addr: addr, Handler: r}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "hls-archiver [url...]",
		Short:         "Archive HLS recordings from their playlist URLs",
		Args:          cobra.MinimumNArgs(1),
		RunE:          runE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.StringVar(&name, "name", "", "Output base name (single URL only)")
	flags.StringVarP(&flagCfg.Directory, "directory", "d", "", "Output directory (default \".\")")
	flags.StringVarP(&flagCfg.Format, "format", "f", "", "Format to download: \"best\" or a rendition name (default \"best\")")
	flags.BoolVarP(&flagCfg.ListFormats, "list-formats", "F", false, "List available formats and exit")
	flags.BoolVar(&flagCfg.SkipDownload, "skip-download", false, "Resolve and select the format without downloading")
	flags.BoolVar(&flagCfg.SkipConvert, "skip-convert", false, "Keep the .ts output instead of remuxing to .mp4")
	flags.StringVar(&flagCfg.DownloadArchive, "download-archive", "", "SQLite file recording finished downloads")
	flags.IntVar(&flagCfg.Workers, "workers", 0, "Concurrent segment downloads (default 10)")
	flags.IntVar(&flagCfg.Attempts, "attempts", 0, "Attempts per segment in each pass (default 5)")
	flags.IntVar(&flagCfg.MaxRounds, "max-rounds", 0, "Maximum download passes per job (default 10)")
	flags.Float64Var(&flagCfg.RateLimit, "rate-limit", 0, "Maximum requests per second, 0 for unlimited")
	flags.StringVar(&flagCfg.UserAgent, "user-agent", "", "User-Agent header")
	flags.StringArrayVarP(&headers, "header", "H", nil, "Extra request header \"Name: value\" (repeatable)")
	flags.StringVar(&flagCfg.FFmpegPath, "ffmpeg", "", "Path to ffmpeg executable")
	flags.StringVar(&flagCfg.StatusAddr, "status-addr", "", "Serve job status and metrics on this address")
	flags.BoolVar(&flagCfg.Progress, "progress", false, "Show download progress on stderr")
	flags.StringVar(&flagCfg.LogFormat, "log-format", "", "Log format: text or json")
	flags.BoolP("verbose", "V", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
