package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"paradl/downloader"
	"paradl/internal/control"
	"paradl/internal/events"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [output-path-or-directory]",
	Short: "Resume a download from its .paradl sidecar",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		return runResume(target)
	},
}

func runResume(target string) error {
	sidecarPath := target
	if !strings.HasSuffix(sidecarPath, ".paradl") {
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			found, err := findLatestSidecar(target)
			if err != nil {
				return err
			}
			sidecarPath = found
		} else {
			sidecarPath = target + ".paradl"
		}
	}
	outputPath := strings.TrimSuffix(sidecarPath, ".paradl")

	store := control.New(outputPath)
	rec, ok := store.Load()
	if !ok {
		return fmt.Errorf("no valid control record at %s", sidecarPath)
	}
	if len(rec.URLs) == 0 {
		return fmt.Errorf("control record at %s has no source URLs", sidecarPath)
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	cfg.ResumeDownloads = true
	cfg.OutputDirectory = filepath.Dir(rec.OutputPath)

	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := downloader.New(downloader.Config{MaxConcurrentDownloads: cfg.MaxConcurrentDownloads}, logger)
	program := tea.NewProgram(newProgressModel())
	d.Events().OnAny(func(ev events.Event) { forwardEvent(d, program, ev) })

	go func() {
		<-ctx.Done()
		d.CancelAll()
	}()

	if _, err := d.Download(ctx, rec.URLs, rec.Filename, cfg); err != nil {
		return err
	}

	go func() {
		waitForAllDone(d)
		program.Send(quitMsg{})
	}()

	_, err = program.Run()
	return err
}
