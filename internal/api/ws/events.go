package ws

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Subscriber is the event source behind a stream
type Subscriber interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
}

// EventStream pushes host events to WebSocket clients as they happen
type EventStream struct {
	bus          Subscriber
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger
	metrics      *monitoring.Metrics

	quit     chan struct{}
	quitOnce sync.Once
}

// NewEventStream creates an event stream handler
func NewEventStream(cfg Config, bus Subscriber, logger *zap.Logger) *EventStream {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		bus:          bus,
		upgrader:     websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		quit:         make(chan struct{}),
	}
}

// Close ends every open stream
func (s *EventStream) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// WithMetrics adds metrics tracking to the stream
func (s *EventStream) WithMetrics(metrics *monitoring.Metrics) *EventStream {
	s.metrics = metrics
	return s
}

// FilterFromQuery reads session_id, level, kind and limit query parameters
func FilterFromQuery(c *gin.Context) events.Filter {
	f := events.Filter{
		SessionID: id.SessionID(c.Query("session_id")),
		Level:     events.Level(c.Query("level")),
		Kind:      events.Kind(c.Query("kind")),
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	return f
}

// Handle upgrades the connection and streams matching events until the
// client goes away
func (s *EventStream) Handle(c *gin.Context) {
	filter := FilterFromQuery(c)
	filter.Limit = 0

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("Event stream upgrade failed", zap.Error(err))
		return
	}

	ch, cancel := s.bus.Subscribe(filter)
	defer cancel()

	s.metrics.IncWSConnections()
	defer s.metrics.DecWSConnections()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(types.SurfaceFrame{Type: types.FrameEvent, Result: e}); err != nil {
				s.logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
			s.metrics.RecordWSMessage("out", types.FrameEvent)
		}
	}
}
