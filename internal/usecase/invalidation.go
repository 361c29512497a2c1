package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
)

// RemoteReloader applies reloads announced by other replicas.
type RemoteReloader interface {
	ApplyRemoteReload(ctx context.Context, seriesID string) error
}

// ReloadHandler consumes reload notices from Kafka. Notices published by this
// instance are skipped since the reload already happened locally.
type ReloadHandler struct {
	topic    string
	origin   string
	reloader RemoteReloader
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

func NewReloadHandler(topic, origin string, reloader RemoteReloader) *ReloadHandler {
	return &ReloadHandler{
		topic:    topic,
		origin:   origin,
		reloader: reloader,
		metrics:  metrics.Nop{},
		l:        applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (h *ReloadHandler) SetLogger(l *applogger.Logger) {
	if l != nil {
		h.l = l
	}
}

// SetMetrics injects a metrics recorder.
func (h *ReloadHandler) SetMetrics(m domrepo.Metrics) {
	if m != nil {
		h.metrics = m
	}
}

func (h *ReloadHandler) Topic() string { return h.topic }

func (h *ReloadHandler) Handle(ctx context.Context, b []byte) error {
	var n models.ReloadNotice
	if err := json.Unmarshal(b, &n); err != nil {
		// malformed notices are dropped, retrying cannot fix them
		h.metrics.RecordError("reload_unmarshal")
		h.l.Warn("dataset.reload_notice malformed", applogger.Error(err))
		return nil
	}
	if n.SeriesID == "" || n.Origin == h.origin {
		return nil
	}

	h.l.Info("dataset.reload_notice received",
		applogger.String("series", n.SeriesID),
		applogger.String("origin", n.Origin),
	)
	if err := h.reloader.ApplyRemoteReload(ctx, n.SeriesID); err != nil {
		return fmt.Errorf("apply reload %s: %w", n.SeriesID, err)
	}
	return nil
}
