package media

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	mu     sync.Mutex
	names  []string
	args   [][]string
	output []byte
	stderr string
	err    error
	seen   []string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.args = append(r.args, append([]string(nil), args...))
	input := args[indexOf(args, "-i")+1]
	output := args[len(args)-1]
	r.seen = append(r.seen, input, output)
	if _, err := os.Stat(input); err != nil {
		return err
	}
	if r.stderr != "" {
		_, _ = io.WriteString(stderr, r.stderr)
	}
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(output, r.output, 0o600)
}

func indexOf(args []string, flag string) int {
	for i, arg := range args {
		if arg == flag {
			return i
		}
	}
	return -1
}

func TestFFmpegTranscoderEncode(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{output: []byte("mp4-bytes")}
	transcoder := NewFFmpegTranscoder(FFmpegConfig{TempDir: dir, Runner: runner, Logger: discardLogger()})

	out, err := transcoder.Encode(context.Background(), []byte("source"), "1280x720", "2500k")
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(out))

	require.Len(t, runner.args, 1)
	assert.Equal(t, "ffmpeg", runner.names[0])
	args := runner.args[0]
	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-i"}, args[:5])
	assert.Equal(t, "1280x720", args[indexOf(args, "-s")+1])
	assert.Equal(t, "libx264", args[indexOf(args, "-c:v")+1])
	assert.Equal(t, "2500k", args[indexOf(args, "-b:v")+1])
	assert.Equal(t, "veryfast", args[indexOf(args, "-preset")+1])
	assert.Equal(t, "2", args[indexOf(args, "-threads")+1])
	assert.Equal(t, "aac", args[indexOf(args, "-c:a")+1])
	assert.Equal(t, "128k", args[indexOf(args, "-b:a")+1])
	assert.Equal(t, "+faststart", args[indexOf(args, "-movflags")+1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must be removed")
}

func TestFFmpegTranscoderFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{err: errors.New("exit status 1"), stderr: "warming up\nInvalid data found when processing input\n"}
	transcoder := NewFFmpegTranscoder(FFmpegConfig{TempDir: dir, Runner: runner, Logger: discardLogger(), Binary: "/opt/ffmpeg"})

	_, err := transcoder.Encode(context.Background(), []byte("source"), "640x360", "800k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found when processing input")
	assert.Equal(t, "/opt/ffmpeg", runner.names[0])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFFmpegTranscoderRejectsEmptyOutput(t *testing.T) {
	transcoder := NewFFmpegTranscoder(FFmpegConfig{TempDir: t.TempDir(), Runner: &scriptedRunner{}, Logger: discardLogger()})
	_, err := transcoder.Encode(context.Background(), []byte("source"), "640x360", "800k")
	require.Error(t, err)

	_, err = transcoder.Encode(context.Background(), nil, "640x360", "800k")
	require.Error(t, err)
}

func TestFFmpegTranscoderHonoursCancellation(t *testing.T) {
	transcoder := NewFFmpegTranscoder(FFmpegConfig{TempDir: t.TempDir(), Runner: &scriptedRunner{output: []byte("x")}, MaxProcesses: 1, Logger: discardLogger()})
	require.True(t, transcoder.slots.TryAcquire(1))
	defer transcoder.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := transcoder.Encode(ctx, []byte("source"), "640x360", "800k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFFmpegTranscoderExtractFrame(t *testing.T) {
	runner := &scriptedRunner{output: []byte("jpeg")}
	transcoder := NewFFmpegTranscoder(FFmpegConfig{TempDir: t.TempDir(), Runner: runner, Logger: discardLogger()})

	frame, err := transcoder.ExtractFrame(context.Background(), []byte("source"), 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(frame))
	args := runner.args[0]
	assert.Equal(t, "1.500", args[indexOf(args, "-ss")+1])
	assert.Equal(t, "1", args[indexOf(args, "-frames:v")+1])
}
