// Package main implements the streamrec daemon, the core live-stream
// recording service.
//
// streamrec is designed for 24/7 unattended operation, supervising one
// Streamer Worker per activated broadcaster with automatic restart and
// graceful shutdown.
//
// Usage:
//
//	streamrec [options]
//
// Options:
//
//	--config=PATH            Path to config file (default: /etc/streamrec/config.yaml)
//	--lock-dir=PATH          Directory for per-broadcaster lock files (default: /var/run/streamrec)
//	--capture-log-dir=PATH   Directory for rotated Capture Engine stderr logs (default: /var/log/streamrec)
//	--log-level=LEVEL        Log level: debug, info, warn, error (default: info)
//	--upload-cmd=NAME        Subprocess used to fulfil upload actions (default: rclone)
//	--help                   Show this help message
//
// Example:
//
//	# Run with default config
//	streamrec
//
//	# Run with custom config
//	streamrec --config=/path/to/config.yaml
//
// The daemon automatically:
//   - Loads the activated broadcaster list from configuration
//   - Spawns a Streamer Worker per activated broadcaster
//   - Restarts a failed Worker without affecting its siblings
//   - Serves /healthz and /metrics when health is enabled in config or --health-addr is set
//   - Handles SIGINT/SIGTERM/SIGHUP for graceful shutdown
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/qingrang/stream-rec/internal/action"
	"github.com/qingrang/stream-rec/internal/config"
	"github.com/qingrang/stream-rec/internal/health"
	"github.com/qingrang/stream-rec/internal/supervisor"
	"github.com/qingrang/stream-rec/internal/worker"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// daemonFlags collects the command-line flags runDaemon acts on, kept
// as a struct so tests can drive runDaemon without touching the
// package-level flag.FlagSet.
type daemonFlags struct {
	ConfigPath    string
	LockDir       string
	CaptureLogDir string
	LogLevel      string
	UploadCmd     string
	HealthAddr    string
}

var (
	configPath    = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	lockDir       = flag.String("lock-dir", "/var/run/streamrec", "Directory for per-broadcaster lock files")
	captureLogDir = flag.String("capture-log-dir", worker.DefaultLogDir, "Directory for rotated per-broadcaster Capture Engine stderr logs")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	uploadCmd     = flag.String("upload-cmd", "rclone", "Subprocess used to fulfil upload actions")
	healthAddr    = flag.String("health-addr", "", "Address to serve /healthz and /metrics on (overrides config)")
	showHelp      = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	os.Exit(runDaemon(daemonFlags{
		ConfigPath:    *configPath,
		LockDir:       *lockDir,
		CaptureLogDir: *captureLogDir,
		LogLevel:      *logLevel,
		UploadCmd:     *uploadCmd,
		HealthAddr:    *healthAddr,
	}))
}

// runDaemon contains main's logic as a testable, side-effect-isolated
// function returning a process exit code.
func runDaemon(flags daemonFlags) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseSlogLevel(flags.LogLevel)}))
	logger.Info("starting streamrec", "version", Version, "commit", Commit, "built", BuildTime)

	if err := os.MkdirAll(flags.LockDir, 0750); err != nil { //nolint:gosec // lock dir needs group read for service monitoring
		logger.Error("failed to create lock directory", "error", err)
		return 1
	}

	captureLogDir := flags.CaptureLogDir
	if captureLogDir == "" {
		captureLogDir = worker.DefaultLogDir
	}
	if err := os.MkdirAll(captureLogDir, 0750); err != nil { //nolint:gosec // log dir needs group read for service monitoring
		logger.Error("failed to create capture log directory", "error", err)
		return 1
	}

	cfg, err := loadConfiguration(flags.ConfigPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}
	logger.Info("loaded configuration", "path", flags.ConfigPath, "streamers", len(cfg.Streamers))

	ffmpegPath, err := findFFmpegPath(cfg.FFmpegPath)
	if err != nil {
		logger.Error("ffmpeg not found", "error", err)
		return 1
	}
	logger.Info("using ffmpeg", "path", ffmpegPath)
	cfg.FFmpegPath = ffmpegPath

	var logWriter io.Writer
	if flags.LogLevel == "debug" {
		logWriter = os.Stderr
	}
	sup := supervisor.New(supervisor.Config{
		ShutdownTimeout: 30 * time.Second,
		Logger:          logWriter,
	})

	dispatcher := &action.Dispatcher{
		Upload: action.NewRetryingUploadService(&subprocessUploadService{
			program: flags.UploadCmd,
			logger:  logger,
		}, 2*time.Second, time.Minute, 5),
		Logger: logger,
	}

	supervisor.BuildWorkers(sup, cfg, dispatcher, flags.LockDir, captureLogDir, logger)

	if sup.ServiceCount() == 0 {
		logger.Warn("no activated broadcasters registered, exiting")
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig.String())
		cancel()
	}()

	if addr := effectiveHealthAddr(flags.HealthAddr, cfg); addr != "" {
		provider := &supervisorStatusProvider{sup: sup}
		handler := health.NewHandler(provider)
		go func() {
			if err := health.ListenAndServe(ctx, addr, handler); err != nil {
				logger.Error("health server exited", "error", err)
			}
		}()
		logger.Info("serving health and metrics endpoints", "addr", addr)
	}

	logger.Info("starting workers", "count", sup.ServiceCount())
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("supervisor exited with error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// effectiveHealthAddr prefers an explicit flag override, then the
// config file's health.addr, and treats an unconfigured,
// disabled-by-default health section as "do not serve".
func effectiveHealthAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg.Health.Enabled {
		return cfg.Health.Addr
	}
	return ""
}

// supervisorStatusProvider adapts a *supervisor.Supervisor to
// health.StatusProvider, translating supervisor.ServiceStatus into the
// health package's JSON/Prometheus-facing ServiceInfo shape.
type supervisorStatusProvider struct {
	sup *supervisor.Supervisor
}

func (p *supervisorStatusProvider) Services() []health.ServiceInfo {
	statuses := p.sup.Status()
	out := make([]health.ServiceInfo, 0, len(statuses))
	for _, st := range statuses {
		info := health.ServiceInfo{
			Name:     st.Name,
			State:    st.State.String(),
			Uptime:   st.Uptime,
			Healthy:  st.State == supervisor.ServiceStateRunning,
			Restarts: st.Restarts,
		}
		if st.LastError != nil {
			info.Error = st.LastError.Error()
		}
		out = append(out, info)
	}
	return out
}

// subprocessUploadService fulfils action.UploadService by invoking an
// external sync tool (rclone by default) as a subprocess, passing the
// job's remote path and extra args through unmodified.
type subprocessUploadService struct {
	program string
	logger  *slog.Logger
}

func (s *subprocessUploadService) Submit(ctx context.Context, job action.UploadJob) error {
	argv := append([]string{"copyto"}, job.Config.ExtraArgs...)
	argv = append(argv, job.Config.RemotePath)

	// #nosec G204 -- program and args come from operator-authored configuration
	cmd := exec.CommandContext(ctx, s.program, argv...)
	err := cmd.Run()
	if s.logger != nil {
		s.logger.Info("upload job submitted", "job_id", job.JobID, "remote_path", job.Config.RemotePath, "items", len(job.Items), "error", err)
	}
	if err != nil {
		return fmt.Errorf("upload job %s: %w", job.JobID, err)
	}
	return nil
}

// loadConfiguration loads the config file, falling back to defaults
// when it does not yet exist (first run on a fresh host).
func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// findFFmpegPath resolves the configured ffmpeg binary, falling back
// to common install locations and finally $PATH.
func findFFmpegPath(configured string) (string, error) {
	if configured != "" && configured != "ffmpeg" {
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
	}

	paths := []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		p := filepath.Join(dir, "ffmpeg")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in configured path, common locations, or PATH")
}

// parseSlogLevel maps a case-insensitive level name to a slog.Level,
// defaulting to Info for anything unrecognized.
func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("streamrec - live-stream recording daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: streamrec [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon polls each activated broadcaster for liveness, captures")
	fmt.Println("its stream while live, and fires configured upload/command actions")
	fmt.Println("once a session ends.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM, SIGHUP  Graceful shutdown")
}
