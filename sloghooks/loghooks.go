// Package sloghooks implements querycache.Hooks by logging through slog.
// High-volume events can be sampled and keys are redacted by default.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StartedEvery uint64
	DroppedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	startedCtr atomic.Uint64
	droppedCtr atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) InvocationStarted(key string, label querycache.Status) {
	if h.l == nil || !sample(h.opts.StartedEvery, &h.startedCtr) {
		return
	}
	h.l.Debug("querycache.invocation_started",
		"key", h.redact(key),
		"label", string(label))
}

func (h *Hooks) RetryScheduled(key string, attempt int, delay time.Duration, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.retry_scheduled",
		"key", h.redact(key),
		"attempt", attempt,
		"delay", delay,
		"err", err)
}

func (h *Hooks) InvocationSettled(key string, status querycache.Status, retries int) {
	if h.l == nil {
		return
	}
	level := slog.LevelDebug
	if status == querycache.StatusError {
		level = slog.LevelWarn
	}
	h.l.Log(context.Background(), level, "querycache.invocation_settled",
		"key", h.redact(key),
		"status", string(status),
		"retries", retries)
}

func (h *Hooks) EventDropped(key string, trigger querycache.Trigger, reason string) {
	if h.l == nil || !sample(h.opts.DroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Debug("querycache.event_dropped",
		"key", h.redact(key),
		"trigger", string(trigger),
		"reason", reason)
}

func (h *Hooks) MutationRolledBack(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.mutation_rolled_back",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) GroupEvicted(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.group_evicted",
		"key", h.redact(key),
		"reason", reason)
}
