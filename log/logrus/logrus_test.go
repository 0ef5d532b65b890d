package logrus

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	base.SetOutput(io.Discard)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	l.Debug("revalidate", querycache.Fields{"key": "todo:1"})
	l.Error("gen bump error", querycache.Fields{"key": "todo:1"})

	require.Len(t, hook.AllEntries(), 2)
	first := hook.AllEntries()[0]
	assert.Equal(t, logrus.DebugLevel, first.Level)
	assert.Equal(t, "todo:1", first.Data["key"])
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "gen bump error", hook.LastEntry().Message)
}
