package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Transcoder encodes a source video into one target resolution and bitrate.
// Implementations must be safe for concurrent use.
type Transcoder interface {
	Encode(ctx context.Context, source []byte, resolution, bitrate string) ([]byte, error)
}

// FrameExtractor grabs a single still image from a video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, source []byte, at time.Duration) ([]byte, error)
}

// CommandRunner executes an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}

const (
	defaultFFmpegBinary  = "ffmpeg"
	defaultFFmpegThreads = 2
	defaultFFmpegPreset  = "veryfast"
	defaultAudioBitrate  = "128k"
)

// FFmpegConfig configures FFmpegTranscoder.
type FFmpegConfig struct {
	Binary       string
	TempDir      string
	Threads      int
	Preset       string
	AudioBitrate string
	// MaxProcesses caps concurrently running encoder processes across all
	// callers. Zero means runtime.NumCPU().
	MaxProcesses int
	Runner       CommandRunner
	Logger       *slog.Logger
}

// FFmpegTranscoder shells out to ffmpeg through temporary files that are
// removed on every exit path.
type FFmpegTranscoder struct {
	binary       string
	tempDir      string
	threads      int
	preset       string
	audioBitrate string
	slots        *semaphore.Weighted
	runner       CommandRunner
	logger       *slog.Logger
}

// NewFFmpegTranscoder applies defaults to cfg and returns a transcoder.
func NewFFmpegTranscoder(cfg FFmpegConfig) *FFmpegTranscoder {
	t := &FFmpegTranscoder{
		binary:       strings.TrimSpace(cfg.Binary),
		tempDir:      cfg.TempDir,
		threads:      cfg.Threads,
		preset:       strings.TrimSpace(cfg.Preset),
		audioBitrate: strings.TrimSpace(cfg.AudioBitrate),
		runner:       cfg.Runner,
		logger:       cfg.Logger,
	}
	if t.binary == "" {
		t.binary = defaultFFmpegBinary
	}
	if t.threads <= 0 {
		t.threads = defaultFFmpegThreads
	}
	if t.preset == "" {
		t.preset = defaultFFmpegPreset
	}
	if t.audioBitrate == "" {
		t.audioBitrate = defaultAudioBitrate
	}
	maxProcesses := cfg.MaxProcesses
	if maxProcesses <= 0 {
		maxProcesses = runtime.NumCPU()
	}
	t.slots = semaphore.NewWeighted(int64(maxProcesses))
	if t.runner == nil {
		t.runner = execRunner{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// EncodeArgs builds the ffmpeg argument list for one rendition.
func (t *FFmpegTranscoder) EncodeArgs(input, output, resolution, bitrate string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-s", resolution,
		"-c:v", "libx264",
		"-b:v", bitrate,
		"-preset", t.preset,
		"-threads", strconv.Itoa(t.threads),
		"-c:a", "aac",
		"-b:a", t.audioBitrate,
		"-movflags", "+faststart",
		output,
	}
}

func (t *FFmpegTranscoder) Encode(ctx context.Context, source []byte, resolution, bitrate string) ([]byte, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("encode: empty source")
	}
	return t.run(ctx, source, ".mp4", func(input, output string) []string {
		return t.EncodeArgs(input, output, resolution, bitrate)
	})
}

func (t *FFmpegTranscoder) ExtractFrame(ctx context.Context, source []byte, at time.Duration) ([]byte, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("extract frame: empty source")
	}
	offset := strconv.FormatFloat(at.Seconds(), 'f', 3, 64)
	return t.run(ctx, source, ".jpg", func(input, output string) []string {
		return []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-ss", offset,
			"-i", input,
			"-frames:v", "1",
			"-q:v", "3",
			output,
		}
	})
}

func (t *FFmpegTranscoder) run(ctx context.Context, source []byte, outputExt string, buildArgs func(input, output string) []string) ([]byte, error) {
	if err := t.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for encoder slot: %w", err)
	}
	defer t.slots.Release(1)

	input, err := os.CreateTemp(t.tempDir, "src-*")
	if err != nil {
		return nil, fmt.Errorf("create input file: %w", err)
	}
	inputPath := input.Name()
	defer os.Remove(inputPath)

	if _, err := input.Write(source); err != nil {
		_ = input.Close()
		return nil, fmt.Errorf("write input file: %w", err)
	}
	if err := input.Close(); err != nil {
		return nil, fmt.Errorf("close input file: %w", err)
	}

	output, err := os.CreateTemp(t.tempDir, "out-*"+outputExt)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outputPath := output.Name()
	_ = output.Close()
	defer os.Remove(outputPath)

	stderr := newLogWriter(t.logger, "stderr")
	stdout := newLogWriter(t.logger, "stdout")
	if err := t.runner.Run(ctx, t.binary, buildArgs(inputPath, outputPath), stdout, stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", t.binary, ctxErr)
		}
		if last := stderr.LastLine(); last != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", t.binary, err, last)
		}
		return nil, fmt.Errorf("%s failed: %w", t.binary, err)
	}

	encoded, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%s produced empty output", t.binary)
	}
	return encoded, nil
}

// logWriter forwards encoder output to the logger one line at a time and
// remembers the last line for error messages.
type logWriter struct {
	logger *slog.Logger
	stream string

	mu   sync.Mutex
	last string
}

func newLogWriter(logger *slog.Logger, stream string) *logWriter {
	return &logWriter{logger: logger, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.mu.Lock()
		w.last = string(line)
		w.mu.Unlock()
		w.logger.Debug("encoder output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}

func (w *logWriter) LastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
