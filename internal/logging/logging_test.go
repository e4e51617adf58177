package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitWriter(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	var buf bytes.Buffer
	InitWriter(&buf, false)
	assert.False(t, DebugEnabled())
	log.Debug().Msg("hidden")
	webLog := Component("web")
	webLog.Info().Msg("web: listening")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "web: listening")
	assert.Contains(t, buf.String(), "component=web")

	buf.Reset()
	InitWriter(&buf, true)
	assert.True(t, DebugEnabled())
	log.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
