package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
)

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	l.Debug("hidden", querycache.Fields{"key": "x"})
	l.Error("gen bump error", querycache.Fields{"key": "todo:1", "attempt": 2})

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "error", got["level"])
	assert.Equal(t, "gen bump error", got["message"])
	assert.Equal(t, "todo:1", got["key"])
	assert.EqualValues(t, 2, got["attempt"])
}
