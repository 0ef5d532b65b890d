package sloghooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
)

func newLogged(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m))
		out = append(out, m)
	}
	return out
}

func TestRedactsKeys(t *testing.T) {
	h, buf := newLogged(Options{})
	h.GroupEvicted("user:42", "forced")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "querycache.group_evicted", got[0]["msg"])
	assert.NotEqual(t, "user:42", got[0]["key"])
	assert.Len(t, got[0]["key"], 16)
	assert.Equal(t, "forced", got[0]["reason"])
}

func TestCustomRedact(t *testing.T) {
	h, buf := newLogged(Options{Redact: func(k string) string { return k }})
	h.MutationRolledBack("todo:1", errors.New("conflict"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "todo:1", got[0]["key"])
	assert.Equal(t, "WARN", got[0]["level"])
}

func TestSettledLevel(t *testing.T) {
	h, buf := newLogged(Options{})
	h.InvocationSettled("k", querycache.StatusSuccess, 0)
	h.InvocationSettled("k", querycache.StatusError, 3)

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "DEBUG", got[0]["level"])
	assert.Equal(t, "WARN", got[1]["level"])
	assert.EqualValues(t, 3, got[1]["retries"])
}

func TestSampling(t *testing.T) {
	h, buf := newLogged(Options{DroppedEvery: 3, StartedEvery: 2})
	for i := 0; i < 9; i++ {
		h.EventDropped("k", querycache.TriggerFocus, "fresh")
	}
	for i := 0; i < 4; i++ {
		h.InvocationStarted("k", querycache.StatusLoading)
	}
	h.RetryScheduled("k", 0, time.Second, errors.New("x"))

	var dropped, started, retry int
	for _, l := range lines(t, buf) {
		switch l["msg"] {
		case "querycache.event_dropped":
			dropped++
		case "querycache.invocation_started":
			started++
		case "querycache.retry_scheduled":
			retry++
		}
	}
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 2, started)
	assert.Equal(t, 1, retry)
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	assert.NotPanics(t, func() {
		h.InvocationStarted("k", querycache.StatusLoading)
		h.RetryScheduled("k", 0, 0, nil)
		h.InvocationSettled("k", querycache.StatusSuccess, 0)
		h.EventDropped("k", querycache.TriggerFocus, "fresh")
		h.MutationRolledBack("k", nil)
		h.GroupEvicted("k", "forced")
	})
}
