// Package cli is the operator-facing command surface over the download
// engine, grounded on the pack CLI shape in
// guiyumin-vget/internal/cli/root.go: a cobra root command, a package-level
// flag set bound in init, and an Execute entry point called from cmd/paradl.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paradl/downloader"
	"paradl/internal/events"
	"paradl/internal/fetcher"
	"paradl/internal/udmconfig"
)

var (
	flagOutput        string
	flagOutputDir     string
	flagSplit         int
	flagSegmentSize   string
	flagMaxConn       int
	flagMaxConcurrent int
	flagTimeout       time.Duration
	flagRetries       int
	flagAllocation    string
	flagMaxSpeed      string
	flagAlwaysResume  bool
	flagNoResume      bool
	flagConfigFile    string
	flagVerbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "paradl [urls...]",
	Short: "Resumable, segmented HTTP downloader",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(args)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output filename (default: derived from the URL or response)")
	rootCmd.Flags().StringVar(&flagOutputDir, "output-dir", ".", "directory to write the output file into")
	rootCmd.Flags().IntVarP(&flagSplit, "split", "s", 8, "maximum number of segments")
	rootCmd.Flags().StringVar(&flagSegmentSize, "segment-size", "4MB", "target segment size, e.g. 4MB, 512KB")
	rootCmd.Flags().IntVar(&flagMaxConn, "max-connections", 8, "maximum concurrent connections per server, for this download")
	rootCmd.Flags().IntVar(&flagMaxConcurrent, "max-concurrent-downloads", 3, "maximum number of downloads running at once")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-request timeout")
	rootCmd.Flags().IntVar(&flagRetries, "retries", 3, "retry attempts per request")
	rootCmd.Flags().StringVar(&flagAllocation, "allocation", "none", "file pre-allocation strategy: none, trunc, prealloc, falloc")
	rootCmd.Flags().StringVar(&flagMaxSpeed, "max-speed", "", "cap aggregate throughput, e.g. 2MB (default: unlimited)")
	rootCmd.Flags().BoolVar(&flagAlwaysResume, "always-resume", false, "fail rather than silently restart if no valid sidecar is found for an existing output file")
	rootCmd.Flags().BoolVar(&flagNoResume, "no-resume", false, "disable sidecar-based resume entirely")
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML defaults file (default: $HOME/.paradl.yaml)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(resumeCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func buildConfig() (udmconfig.Config, error) {
	cfg := udmconfig.Default()
	// Leave the fields the defaults file can supply unset, so the file fills
	// them and a flag overrides it only when given explicitly.
	cfg.Split, cfg.Retries, cfg.MaxConcurrentDownloads = 0, 0, 0

	configPath := flagConfigFile
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".paradl.yaml")
		}
	}
	if configPath != "" {
		fc, err := udmconfig.LoadFileConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("loading config %s: %w", configPath, err)
		}
		fc.ApplyDefaults(&cfg)
	}

	flags := rootCmd.Flags()
	if cfg.Split <= 0 || flags.Changed("split") {
		cfg.Split = flagSplit
	}
	cfg.MaxConnectionsPerServer = flagMaxConn
	if cfg.MaxConcurrentDownloads <= 0 || flags.Changed("max-concurrent-downloads") {
		cfg.MaxConcurrentDownloads = flagMaxConcurrent
	}
	cfg.Timeout = flagTimeout
	if cfg.Retries <= 0 || flags.Changed("retries") {
		cfg.Retries = flagRetries
	}
	cfg.OutputDirectory = flagOutputDir
	cfg.ResumeDownloads = !flagNoResume
	cfg.AlwaysResume = flagAlwaysResume

	segSize, err := udmconfig.ParseSize(flagSegmentSize)
	if err != nil {
		return cfg, err
	}
	cfg.SegmentSize = segSize

	if flagMaxSpeed != "" {
		speed, err := udmconfig.ParseSize(flagMaxSpeed)
		if err != nil {
			return cfg, err
		}
		cfg.MaxDownloadSpeed = speed
	}

	switch flagAllocation {
	case "none", "":
		cfg.FileAllocation = udmconfig.AllocationNone
	case "trunc":
		cfg.FileAllocation = udmconfig.AllocationTrunc
	case "prealloc":
		cfg.FileAllocation = udmconfig.AllocationPrealloc
	case "falloc":
		cfg.FileAllocation = udmconfig.AllocationFalloc
	default:
		return cfg, fmt.Errorf("unknown --allocation %q", flagAllocation)
	}

	return cfg, nil
}

func runDownload(urls []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := downloader.New(downloader.Config{MaxConcurrentDownloads: cfg.MaxConcurrentDownloads}, logger)

	program := tea.NewProgram(newProgressModel())

	d.Events().OnAny(func(ev events.Event) {
		forwardEvent(d, program, ev)
	})

	go func() {
		<-ctx.Done()
		d.CancelAll()
	}()

	for _, u := range urls {
		filename := flagOutput
		if filename == "" {
			filename = resolveDerivedFilename(cfg.OutputDirectory, fetcher.FilenameFromURL(u))
		}
		if _, err := d.Download(ctx, []string{u}, filename, cfg); err != nil {
			logger.Errorw("failed to start download", "url", u, "err", err)
		}
	}

	go func() {
		waitForAllDone(d)
		program.Send(quitMsg{})
	}()

	_, err = program.Run()
	return err
}

// resolveDerivedFilename implements the collision policy for a URL-derived
// filename (no explicit --output given): it first looks for a *.paradl
// sidecar already tracking derived or one of its numbered variants, and if
// one exists, resumes under that name; otherwise it appends a numeric suffix
// to avoid clobbering an existing output file. An explicit --output name is
// never subject to either step - the operator's choice is taken as given.
func resolveDerivedFilename(outputDir, derived string) string {
	if name, ok := findLatestMatchingSidecar(outputDir, derived); ok {
		return name
	}
	full := uniqueFilename(filepath.Join(outputDir, derived))
	return filepath.Base(full)
}

// findLatestMatchingSidecar looks in dir for the most recently modified
// *.paradl sidecar whose corresponding output name is derived itself or one
// of uniqueFilename's numbered variants ("name (1).ext", "name (2).ext", ...).
func findLatestMatchingSidecar(dir, derived string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	ext := filepath.Ext(derived)
	stem := strings.TrimSuffix(derived, ext)

	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".paradl" {
			continue
		}
		outputName := strings.TrimSuffix(e.Name(), ".paradl")
		outExt := filepath.Ext(outputName)
		outStem := strings.TrimSuffix(outputName, outExt)
		if outExt != ext {
			continue
		}
		if outStem != stem && !strings.HasPrefix(outStem, stem+" (") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = outputName
			bestMod = info.ModTime()
		}
	}
	return best, best != ""
}

// uniqueFilename appends a numeric suffix ("file (1).ext") when path already
// exists, mirroring the teacher engine's collision-avoidance behavior.
func uniqueFilename(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// waitForAllDone returns once no registered task is still running. The
// Downloader drops a task from its registry when the task's job finishes, so
// an empty registry also means every download is done.
func waitForAllDone(d *downloader.Downloader) {
	for {
		all := d.All()
		done := true
		for _, info := range all {
			if info.Status != "completed" && info.Status != "failed" && info.Status != "cancelled" {
				done = false
				break
			}
		}
		if done {
			return
		}
		time.Sleep(150 * time.Millisecond)
	}
}

// forwardEvent re-derives the full renderable state of the task behind ev
// from the downloader's registry and sends it as one message, rather than
// forwarding each event's partial payload - trackerUpdateMsg always replaces
// a tracker's entry wholesale, so a partial struct would zero out fields
// (filename, paused, ...) set by earlier events.
func forwardEvent(d *downloader.Downloader, program *tea.Program, ev events.Event) {
	switch ev.Type {
	case events.Start, events.Progress, events.Complete, events.Error, events.Pause, events.Resume:
		t, ok := d.Get(ev.TaskID)
		if !ok {
			return
		}
		info := t.Info()
		program.Send(trackerUpdateMsg(trackerState{
			id:              ev.TaskID,
			filename:        info.Filename,
			downloadedBytes: info.Progress.DownloadedBytes,
			totalBytes:      info.Progress.TotalBytes,
			speed:           info.Progress.Speed,
			eta:             info.Progress.ETA,
			percent:         info.Progress.Percent,
			paused:          info.Status == "paused",
			completed:       info.Status == "completed",
			failed:          info.Status == "failed",
			err:             info.Err,
		}))
	}
}

// findLatestSidecar locates the most recently modified *.paradl sidecar
// under dir, used by the resume subcommand when the caller doesn't know the
// exact output path.
func findLatestSidecar(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".paradl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no .paradl sidecar found in %s", dir)
	}
	return best, nil
}
