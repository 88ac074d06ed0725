package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	log.Warn().Str("file", "reel.abc").Msg("shown")

	assert := assert.New(t)
	assert.NotContains(buf.String(), "hidden")
	assert.Contains(buf.String(), "shown")
	assert.Contains(buf.String(), "reel.abc")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", &bytes.Buffer{})
	assert.Error(t, err)
}
