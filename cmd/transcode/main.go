// Command transcode encodes a local video into every rung of a profile
// ladder using the same ffmpeg pipeline as the media service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"learnhub-media/internal/media"
	"learnhub-media/internal/observability/logging"
)

type options struct {
	input       string
	outDir      string
	profiles    media.ProfileTable
	ffmpeg      string
	threads     int
	concurrency int
	timeout     time.Duration
	logLevel    string
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.Init(logging.Config{Level: opts.logLevel, Format: "text", Writer: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcoder := media.NewFFmpegTranscoder(media.FFmpegConfig{
		Binary:       opts.ffmpeg,
		Threads:      opts.threads,
		MaxProcesses: opts.concurrency,
		Logger:       logging.WithComponent(logger, "ffmpeg"),
	})
	written, err := transcodeFile(ctx, transcoder, opts, logger)
	if err != nil {
		logger.Error("transcode failed", "input", opts.input, "error", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("transcode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "source video file")
	outDir := fs.String("out", ".", "directory receiving <profile>.mp4 files")
	profiles := fs.String("profiles", "360p:640x360:800k,720p:1280x720:2500k", "resolution ladder as name:WxH:bitrate,...")
	ffmpeg := fs.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	threads := fs.Int("threads", 0, "threads passed to ffmpeg")
	concurrency := fs.Int("concurrency", 1, "profiles encoded in parallel")
	timeout := fs.Duration("timeout", 10*time.Minute, "deadline for a single profile encode")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *input == "" {
		return options{}, errors.New("-input is required")
	}
	table, err := media.ParseProfiles(*profiles)
	if err != nil {
		return options{}, fmt.Errorf("-profiles: %w", err)
	}
	if *concurrency < 1 {
		*concurrency = 1
	}
	return options{
		input:       *input,
		outDir:      *outDir,
		profiles:    table,
		ffmpeg:      *ffmpeg,
		threads:     *threads,
		concurrency: *concurrency,
		timeout:     *timeout,
		logLevel:    *logLevel,
	}, nil
}

// transcodeFile encodes opts.input once per profile and returns the written
// paths in ladder order. Nothing is written unless every encode succeeds.
func transcodeFile(ctx context.Context, transcoder media.Transcoder, opts options, logger *slog.Logger) ([]string, error) {
	source, err := os.ReadFile(filepath.Clean(opts.input))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(source) == 0 {
		return nil, errors.New("input is empty")
	}
	profiles := opts.profiles.Profiles()
	outputs := make([][]byte, len(profiles))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(opts.concurrency, 1))
	for idx, profile := range profiles {
		group.Go(func() error {
			encodeCtx := groupCtx
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				encodeCtx, cancel = context.WithTimeout(groupCtx, opts.timeout)
				defer cancel()
			}
			started := time.Now()
			data, err := transcoder.Encode(encodeCtx, source, profile.Resolution, profile.Bitrate)
			if err != nil {
				return fmt.Errorf("encode %s: %w", profile.Name, err)
			}
			outputs[idx] = data
			logger.Info("profile encoded", "profile", profile.Name, "bytes", len(data), "elapsed", time.Since(started).String())
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	written := make([]string, 0, len(profiles))
	for idx, profile := range profiles {
		path := filepath.Join(opts.outDir, profile.Name+".mp4")
		if err := os.WriteFile(path, outputs[idx], 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
