package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/annel0/blastguard/internal/world"
	"github.com/nats-io/nats.go"
)

// Resolver обрабатывает взрыв в переданном мире. Реализуется *durability.Engine.
type Resolver interface {
	ResolveIn(ctx context.Context, w durability.World, ev durability.ExplosionEvent) durability.Outcome
}

// maxRequestBlocks ограничивает размер присланной окрестности
const maxRequestBlocks = 1 << 16

// Handler разбирает запрос и вызывает Resolver. От NATS не зависит.
type Handler struct {
	resolver Resolver
	timeout  time.Duration
	node     string

	requests int64
	failures int64
}

// NewHandler создаёт обработчик запросов взрыва
func NewHandler(r Resolver, timeout time.Duration, node string) *Handler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handler{resolver: r, timeout: timeout, node: node}
}

// Handle принимает JSON ExplodeRequest и возвращает JSON ExplodeResponse.
func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	atomic.AddInt64(&h.requests, 1)

	resp := h.handle(ctx, data)
	resp.Node = h.node
	if resp.Error != "" {
		atomic.AddInt64(&h.failures, 1)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(ExplodeResponse{Error: err.Error(), Node: h.node})
	}
	return out
}

func (h *Handler) handle(ctx context.Context, data []byte) ExplodeResponse {
	var req ExplodeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ExplodeResponse{Error: fmt.Sprintf("bad request: %v", err)}
	}
	if req.Event.World == "" {
		return ExplodeResponse{Error: "bad request: empty world"}
	}
	if len(req.Blocks) > maxRequestBlocks {
		return ExplodeResponse{Error: fmt.Sprintf("bad request: too many blocks (%d > %d)", len(req.Blocks), maxRequestBlocks)}
	}
	if err := checkCoords(req); err != nil {
		return ExplodeResponse{Error: "bad request: " + err.Error()}
	}

	view := world.NewView()
	view.Load(req.Event.World, req.Blocks)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	outcome := h.resolver.ResolveIn(ctx, view, req.Event)
	return ExplodeResponse{Outcome: &outcome}
}

func checkCoords(req ExplodeRequest) error {
	if !durability.PointInRange(req.Event.Origin) {
		return errors.New("origin out of range")
	}
	for _, p := range req.Event.Affected {
		if !durability.InRange(p.X, p.Y, p.Z) {
			return fmt.Errorf("affected block %s out of range", p)
		}
	}
	for _, b := range req.Blocks {
		if !durability.InRange(b.Pos.X, b.Pos.Y, b.Pos.Z) {
			return fmt.Errorf("block %s out of range", b.Pos)
		}
	}
	return nil
}

// Service отвечает на запросы взрывов по NATS request/reply.
// Узлы одной queue-группы делят нагрузку.
type Service struct {
	conn    *nats.Conn
	subject string
	queue   string
	handler *Handler
	logger  *logging.Logger

	subscription *nats.Subscription
	mu           sync.Mutex
	wg           sync.WaitGroup
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewService подключается к NATS. Подписка создаётся в Start.
func NewService(cfg config.TransportConfig, r Resolver, node string) (*Service, error) {
	if cfg.NATSURL == "" {
		return nil, errors.New("transport: nats_url не задан")
	}
	logger := logging.GetTransportLogger()

	opts := []nats.Option{
		nats.Name("blastguard-" + node),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newService(conn, cfg, r, node), nil
}

func newService(conn *nats.Conn, cfg config.TransportConfig, r Resolver, node string) *Service {
	return &Service{
		conn:    conn,
		subject: cfg.Subject,
		queue:   cfg.Queue,
		handler: NewHandler(r, cfg.Timeout(), node),
		logger:  logging.GetTransportLogger(),
		stopCh:  make(chan struct{}),
	}
}

// Start подписывается на subject в queue-группе. Подписка снимается
// при отмене ctx или Close.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription != nil {
		return errors.New("transport: already started")
	}

	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		reply := s.handler.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			s.logger.Error("Ответ на %s: %v", msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.subscription = sub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		s.unsubscribe()
	}()

	s.logger.Info("📡 Приём взрывов: subject=%s queue=%s", s.subject, s.queue)
	return nil
}

func (s *Service) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription == nil {
		return
	}
	if err := s.subscription.Drain(); err != nil {
		s.logger.Error("Failed to drain subscription: %v", err)
	}
	s.subscription = nil
}

// Metrics возвращает счётчики сервиса.
func (s *Service) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"requests":  atomic.LoadInt64(&s.handler.requests),
		"failures":  atomic.LoadInt64(&s.handler.failures),
		"connected": s.conn.IsConnected(),
		"subject":   s.subject,
	}
}

// Close снимает подписку и закрывает соединение.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.unsubscribe()
	if err := s.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.conn.Close()
		return err
	}
	s.logger.Info("Transport closed")
	return nil
}
