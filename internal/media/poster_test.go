package media

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPosterKeepsAspectRatio(t *testing.T) {
	poster, err := renderPoster(pngFrame(t, 480, 640))
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(poster))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 360, cfg.Height)
	assert.Equal(t, 270, cfg.Width)
}

func TestRenderPosterRejectsGarbage(t *testing.T) {
	_, err := renderPoster([]byte("not an image"))
	require.Error(t, err)
}
