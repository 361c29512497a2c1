package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	xlogger "ChartFeed/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxReadBytes = 4 << 10
)

// Client frames.
const (
	msgViewport = "viewport"
	msgSelect   = "select"
)

// Server frames.
const (
	msgSnapshot = "snapshot"
	msgPrepend  = "prepend"
	msgDecision = "decision"
	msgError    = "error"
)

type inbound struct {
	Type        string `json:"type"`
	BarsBefore  int    `json:"barsBefore"`
	VisibleFrom int64  `json:"visibleFrom"`
	TF          string `json:"tf"`
	SeriesType  string `json:"seriesType"`
}

type outbound struct {
	Type       string      `json:"type"`
	Session    string      `json:"session,omitempty"`
	Timeframe  string      `json:"tf,omitempty"`
	SeriesType string      `json:"seriesType,omitempty"`
	Bars       interface{} `json:"bars,omitempty"`
	Total      int         `json:"total,omitempty"`
	Decision   string      `json:"decision,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// ChartHandler serves chart sessions over a websocket. Each connection owns one
// backfill session that loads the initial window and extends it to the left as
// the client reports its viewport.
type ChartHandler struct {
	logger    *xlogger.Logger
	series    domrepo.SeriesReader
	fetcher   domrepo.BarsFetcher
	defaultTF domrepo.Timeframe
	cfg       usecase.BackfillConfig
	metrics   domrepo.Metrics
	upgrader  websocket.Upgrader
}

func NewChartHandler(logger *xlogger.Logger, series domrepo.SeriesReader, fetcher domrepo.BarsFetcher, defaultTF domrepo.Timeframe, cfg usecase.BackfillConfig) *ChartHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if !domrepo.IsValidTimeframe(defaultTF) {
		defaultTF = domrepo.DefaultTimeframe()
	}
	return &ChartHandler{
		logger:    logger,
		series:    series,
		fetcher:   fetcher,
		defaultTF: defaultTF,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetMetrics injects the recorder handed to each backfill session.
func (h *ChartHandler) SetMetrics(m domrepo.Metrics) { h.metrics = m }

func (h *ChartHandler) RegisterRoutes(e *echo.Echo, _ *echo.Group) {
	e.GET("/ws/chart/:series", h.Chart)
}

func (h *ChartHandler) Chart(c echo.Context) error {
	req := &models.ChartSessionRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.TF, h.defaultTF)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InvalidParametersError("tf", err.Error()))
	}
	st, _ := models.ParseSeriesType(req.Type)
	ser, err := h.series.Get(req.Series)
	if err != nil {
		if errors.Is(err, domrepo.ErrSeriesNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s", err.Error()))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("ws.chart upgrade failed", xlogger.Error(err))
		return nil
	}

	s := &chartSession{
		id:    uuid.NewString(),
		conn:  conn,
		shape: models.Shape(req.Shape),
		l:     h.logger,
	}
	s.l = h.logger.With(xlogger.String("session", s.id), xlogger.String("series", req.Series))

	opts := []usecase.BackfillOption{
		usecase.WithEventHandler(s.onEvent),
		usecase.WithBackfillLogger(s.l),
	}
	if h.metrics != nil {
		opts = append(opts, usecase.WithBackfillMetrics(h.metrics))
	}
	s.bf = usecase.NewBackfillSession(h.fetcher, h.cfg, usecase.BackfillSessionParams{
		SeriesID:   req.Series,
		Timeframe:  tf,
		SeriesType: st,
		Origin:     ser.Metadata.StartTime,
		DatasetNow: ser.Metadata.EndTime,
	}, opts...)

	s.run(c.Request().Context())
	return nil
}

type chartSession struct {
	id    string
	conn  *websocket.Conn
	shape models.Shape
	bf    *usecase.BackfillSession
	l     *xlogger.Logger

	writeMu sync.Mutex
}

func (s *chartSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.bf.Close()
		_ = s.conn.Close()
		s.l.Debug("ws.chart closed")
	}()

	s.l.Info("ws.chart opened", xlogger.String("tf", string(s.bf.Params().Timeframe)))
	s.snapshot(ctx)

	s.conn.SetReadLimit(maxReadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pingLoop(ctx)

	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.l.Warn("ws.chart read failed", xlogger.Error(err))
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(b, &in); err != nil {
			s.write(outbound{Type: msgError, Message: "malformed message"})
			continue
		}
		s.handle(ctx, in)
	}
}

func (s *chartSession) handle(ctx context.Context, in inbound) {
	switch in.Type {
	case msgViewport:
		d := s.bf.Evaluate(usecase.Viewport{BarsBefore: in.BarsBefore, VisibleFrom: in.VisibleFrom})
		s.write(outbound{Type: msgDecision, Decision: string(d)})
	case msgSelect:
		p := s.bf.Params()
		tf, err := domrepo.ParseTimeframe(in.TF, p.Timeframe)
		if err != nil {
			s.write(outbound{Type: msgError, Message: err.Error()})
			return
		}
		st, ok := models.ParseSeriesType(in.SeriesType)
		if !ok {
			s.write(outbound{Type: msgError, Message: domrepo.ErrUnknownSeriesType.Error()})
			return
		}
		if in.SeriesType == "" {
			st = p.SeriesType
		}
		s.bf.Reset(tf, st)
		s.snapshot(ctx)
	default:
		s.write(outbound{Type: msgError, Message: "unknown message type " + in.Type})
	}
}

func (s *chartSession) snapshot(ctx context.Context) {
	bars, err := s.bf.Load(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.write(outbound{Type: msgError, Message: err.Error()})
		return
	}
	p := s.bf.Params()
	s.write(outbound{
		Type:       msgSnapshot,
		Session:    s.id,
		Timeframe:  string(p.Timeframe),
		SeriesType: string(p.SeriesType),
		Bars:       models.Project(bars, s.shape),
		Total:      len(bars),
	})
}

// onEvent runs on the backfill fetch goroutine.
func (s *chartSession) onEvent(ev usecase.BackfillEvent) {
	switch ev.Kind {
	case usecase.EventPrepend:
		s.write(outbound{Type: msgPrepend, Bars: models.Project(ev.Bars, s.shape), Total: ev.Total})
	case usecase.EventError:
		s.write(outbound{Type: msgError, Message: ev.Err.Error(), Total: ev.Total})
	}
}

func (s *chartSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *chartSession) write(msg outbound) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.l.Debug("ws.chart write failed", xlogger.String("type", msg.Type), xlogger.Error(err))
	}
}
