package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/meftunca/courier/pkg/config"
	"github.com/meftunca/courier/pkg/dlq"
	"github.com/meftunca/courier/pkg/metrics"
	"github.com/meftunca/courier/pkg/queue"
	"github.com/meftunca/courier/pkg/ratelimit"
	"github.com/meftunca/courier/pkg/registry"
	"github.com/meftunca/courier/pkg/router"
	"github.com/meftunca/courier/pkg/security"
	"github.com/meftunca/courier/pkg/types"
)

// Server exposes the HTTP surface: message ingress through the router,
// agent registration, DLQ inspection and recovery, queue introspection,
// rate limiter administration, health, and metrics.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	queue    *queue.Queue
	dlq      *dlq.Store
	limiter  *ratelimit.Limiter
	guard    *security.Guard
	metrics  *metrics.Metrics
	router   *router.Router
	registry *registry.MemoryRegistry

	startTime time.Time
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, q *queue.Queue, store *dlq.Store, limiter *ratelimit.Limiter, guard *security.Guard, m *metrics.Metrics, rt *router.Router, reg *registry.MemoryRegistry) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader: "Courier",
		AppName:      "Courier Operator API",
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	})

	s := &Server{
		app:       app,
		cfg:       cfg,
		queue:     q,
		dlq:       store,
		limiter:   limiter,
		guard:     guard,
		metrics:   m,
		router:    rt,
		registry:  reg,
		startTime: time.Now(),
	}

	app.Use(recover.New())
	app.Use(requestid.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	v1 := app.Group("/api/v1")
	if cfg.API.JWTSecret != "" {
		v1.Use(s.jwtMiddleware(cfg.API.JWTSecret))
	}

	v1.Post("/messages", s.handleSend)
	v1.Post("/messages/broadcast", s.handleBroadcast)

	v1.Post("/agents", s.handleAgentRegister)
	v1.Get("/agents/:id", s.handleAgentGet)
	v1.Delete("/agents/:id", s.handleAgentDeregister)

	v1.Get("/dlq", s.handleDLQList)
	v1.Get("/dlq/stats", s.handleDLQStats)
	v1.Get("/dlq/analyze", s.handleDLQAnalyze)
	v1.Post("/dlq/:id/requeue", s.handleDLQRequeue)

	v1.Get("/queue/size", s.handleQueueSize)
	v1.Get("/queue/peek", s.handleQueuePeek)

	v1.Get("/ratelimit/stats", s.handleRateLimitStats)
	v1.Get("/ratelimit/:sender", s.handleRateLimitStatus)
	v1.Post("/ratelimit/:sender/reset", s.handleRateLimitReset)

	return s
}

// Listen starts serving. Blocks until shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	log.Printf("[api] listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

type sendRequest struct {
	Destination  string          `json:"destination"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	MaxRetries   *int            `json:"max_retries"`
	Sender       string          `json:"sender"`
	Capabilities []string        `json:"capabilities"`
}

// envelope builds the envelope, falling back to the configured retry
// budget when the request leaves max_retries unset.
func (r sendRequest) envelope(defaultMaxRetries int) *types.Envelope {
	env := types.NewEnvelope(types.AgentID(r.Destination), r.Type, r.Payload)
	if r.Priority != 0 {
		env.WithPriority(types.Priority(r.Priority))
	}
	switch {
	case r.MaxRetries != nil:
		env.WithMaxRetries(*r.MaxRetries)
	case defaultMaxRetries > 0:
		env.WithMaxRetries(defaultMaxRetries)
	}
	if r.Sender != "" {
		env.WithSender(r.Sender)
	}
	return env
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, types.ErrValidation("malformed request body"))
	}

	env := req.envelope(s.cfg.Retry.MaxRetries)
	result, err := s.router.Route(c.Context(), env)
	if err != nil {
		return s.writeError(c, err)
	}
	s.metrics.Enqueued.WithLabelValues(strconv.Itoa(int(env.Priority))).Inc()
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (s *Server) handleBroadcast(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, types.ErrValidation("malformed request body"))
	}
	if len(req.Capabilities) == 0 {
		return s.writeError(c, types.ErrValidation("at least one capability is required"))
	}

	env := req.envelope(s.cfg.Retry.MaxRetries)
	if env.Destination == "" {
		env.Destination = "broadcast" // replaced per matching agent
	}

	result, err := s.router.Broadcast(c.Context(), env, req.Capabilities)
	if err != nil {
		return s.writeError(c, err)
	}
	if result.Status == router.StatusFailed {
		return c.Status(fiber.StatusNotFound).JSON(result)
	}
	for _, agent := range result.Agents {
		if agent.Error == nil {
			s.metrics.Enqueued.WithLabelValues(strconv.Itoa(int(env.Priority))).Inc()
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (s *Server) handleAgentRegister(c *fiber.Ctx) error {
	var info registry.AgentInfo
	if err := c.BodyParser(&info); err != nil {
		return s.writeError(c, types.ErrValidation("malformed request body"))
	}
	if info.ID == "" {
		return s.writeError(c, types.ErrValidation("agent id is required"))
	}

	s.registry.Register(info)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "registered", "id": info.ID})
}

func (s *Server) handleAgentGet(c *fiber.Ctx) error {
	info, ok := s.registry.Get(types.AgentID(c.Params("id")))
	if !ok {
		return s.writeError(c, types.ErrNotFound("agent", c.Params("id")))
	}
	return c.JSON(info)
}

func (s *Server) handleAgentDeregister(c *fiber.Ctx) error {
	s.registry.Deregister(types.AgentID(c.Params("id")))
	return c.JSON(fiber.Map{"status": "deregistered", "id": c.Params("id")})
}

func (s *Server) handleDLQList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	entries, err := s.dlq.List(c.Context(), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

func (s *Server) handleDLQStats(c *fiber.Ctx) error {
	stats, err := s.dlq.Stats(c.Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) handleDLQAnalyze(c *fiber.Ctx) error {
	report, err := s.dlq.AnalyzeFailurePatterns(c.Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(report)
}

func (s *Server) handleDLQRequeue(c *fiber.Ctx) error {
	// The entry stays in the store unless the enqueue succeeds.
	var msgID types.EnvelopeID
	_, err := s.dlq.Requeue(c.Context(), c.Params("id"), func(ctx context.Context, env *types.Envelope) error {
		s.guard.Sign(env)
		id, err := s.queue.Enqueue(ctx, env)
		msgID = id
		return err
	})
	if err != nil {
		return s.writeError(c, err)
	}

	s.metrics.Requeued.Inc()
	return c.JSON(fiber.Map{"status": "requeued", "message_id": msgID})
}

func (s *Server) handleQueueSize(c *fiber.Ctx) error {
	size, err := s.queue.Size(c.Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"size": size})
}

func (s *Server) handleQueuePeek(c *fiber.Ctx) error {
	count := c.QueryInt("count", 10)
	envelopes, err := s.queue.Peek(c.Context(), count)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"envelopes": envelopes, "count": len(envelopes)})
}

func (s *Server) handleRateLimitStats(c *fiber.Ctx) error {
	return c.JSON(s.limiter.Stats())
}

func (s *Server) handleRateLimitStatus(c *fiber.Ctx) error {
	return c.JSON(s.limiter.Status(c.Params("sender")))
}

func (s *Server) handleRateLimitReset(c *fiber.Ctx) error {
	sender := c.Params("sender")
	s.limiter.Reset(sender)
	return c.JSON(fiber.Map{"status": "reset", "sender": sender})
}

// writeError maps a CourierError onto the caller-facing {code, message,
// retry_after?} projection with an appropriate status code.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	ce := types.AsCourierError(err)

	status := fiber.StatusInternalServerError
	switch ce.Code {
	case types.ErrCodeValidation:
		status = fiber.StatusBadRequest
	case types.ErrCodeAuthentication:
		status = fiber.StatusUnauthorized
	case types.ErrCodeRateLimitExceeded:
		status = fiber.StatusTooManyRequests
		s.metrics.RateLimitRejections.Inc()
	case types.ErrCodeNotFound:
		status = fiber.StatusNotFound
	case types.ErrCodeBrokerUnavailable:
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(ce.ToAPIError())
}
