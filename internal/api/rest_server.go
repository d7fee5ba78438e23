package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/annel0/blastguard/internal/middleware"
	"github.com/annel0/blastguard/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// maxExplodeBody ограничение тела POST /api/explode
const maxExplodeBody = 8 << 20

// Engine операции движка, которые обслуживает REST API. Реализуется *durability.Engine.
type Engine interface {
	transport.Resolver
	Damage(world string, x, y, z int) int
	ResetBlock(world string, x, y, z int) bool
	ResetDeadline(world string, x, y, z int) (time.Time, bool)
	Stats() durability.Stats
	SaveSnapshot(ctx context.Context, s durability.SnapshotStore) error
}

// StatsProvider дополнительная секция /api/stats (шина, транспорт)
type StatsProvider func() interface{}

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	engine     Engine
	snapshots  durability.SnapshotStore
	explode    *transport.Handler
	webhooks   *OutboundWebhookManager
	extra      map[string]StatsProvider
	metrics    *ServerMetrics
	httpServer *http.Server
	logger     *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr      string                   // адрес для запуска сервера, например ":8088"
	Engine    Engine                   // движок прочности
	Snapshots durability.SnapshotStore // хранилище для POST /api/snapshot
	Webhooks  *OutboundWebhookManager  // nil - управление webhook'ами недоступно
	Node      string                   // имя узла в ответах /api/explode
	Stats     map[string]StatsProvider // дополнительные секции /api/stats
	Registry  *prometheus.Registry     // nil - дефолтный регистр Prometheus
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	logger := logging.GetServerLogger()

	// === Observability middleware ===
	router.Use(otelgin.Middleware("blastguard_api"))
	router.Use(middleware.NewRequestLogger(logger, "/metrics", "/health").Handler())

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("blastguard_api", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	server := &RestServer{
		router:    router,
		engine:    config.Engine,
		snapshots: config.Snapshots,
		explode:   transport.NewHandler(config.Engine, 0, config.Node),
		webhooks:  config.Webhooks,
		extra:     config.Stats,
		metrics:   NewServerMetrics(),
		logger:    logger,
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.POST("/explode", rs.handleExplode)
		api.POST("/snapshot", rs.handleSnapshot)

		blocks := api.Group("/durability/:world/:x/:y/:z")
		blocks.GET("", rs.handleGetDurability)
		blocks.DELETE("", rs.handleResetDurability)

		if rs.webhooks != nil {
			api.GET("/webhooks", rs.handleGetWebhooks)
			api.POST("/webhooks", rs.handleCreateWebhook)
			api.DELETE("/webhooks/:id", rs.handleDeleteWebhook)
			api.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
		}
	}
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start блокирует до остановки сервера. После Stop возвращает nil.
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API слушает %s", rs.httpServer.Addr)
	err := rs.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop корректно завершает сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats статистика движка и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"durability": rs.engine.Stats(),
	}

	cpuPercent, _ := rs.metrics.GetCPUUsage()
	server := map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   rs.metrics.GetMemoryUsage(),
		"cpu_percent": cpuPercent,
		"server_time": time.Now().Unix(),
	}
	if avail, total, err := rs.metrics.GetSystemMemory(); err == nil {
		server["system_available_mb"] = avail
		server["system_total_mb"] = total
	}
	stats["server"] = server
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	for name, provider := range rs.extra {
		stats[name] = provider()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

type blockRef struct {
	world   string
	x, y, z int
}

func parseBlockRef(c *gin.Context) (blockRef, bool) {
	ref := blockRef{world: c.Param("world")}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &ref.x}, {"y", &ref.y}, {"z", &ref.z}} {
		v, err := strconv.Atoi(c.Param(p.name))
		if err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Координата " + p.name + " должна быть целым числом",
			})
			return blockRef{}, false
		}
		*p.dst = v
	}
	if !durability.InRange(ref.x, ref.y, ref.z) {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: fmt.Sprintf("Координаты вне диапазона [-%d, %d)", durability.MaxCoord, durability.MaxCoord),
		})
		return blockRef{}, false
	}
	return ref, true
}

// BlockDurability ответ GET /api/durability/...
type BlockDurability struct {
	World   string     `json:"world"`
	X       int        `json:"x"`
	Y       int        `json:"y"`
	Z       int        `json:"z"`
	Damage  int        `json:"damage"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

func (rs *RestServer) handleGetDurability(c *gin.Context) {
	ref, ok := parseBlockRef(c)
	if !ok {
		return
	}
	resp := BlockDurability{
		World:  ref.world,
		X:      ref.x,
		Y:      ref.y,
		Z:      ref.z,
		Damage: rs.engine.Damage(ref.world, ref.x, ref.y, ref.z),
	}
	if at, ok := rs.engine.ResetDeadline(ref.world, ref.x, ref.y, ref.z); ok {
		resp.ResetAt = &at
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: resp})
}

func (rs *RestServer) handleResetDurability(c *gin.Context) {
	ref, ok := parseBlockRef(c)
	if !ok {
		return
	}
	if !rs.engine.ResetBlock(ref.world, ref.x, ref.y, ref.z) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Блок не повреждён"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Урон сброшен"})
}

// handleExplode обрабатывает взрыв в формате transport.ExplodeRequest
func (rs *RestServer) handleExplode(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxExplodeBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	reply := rs.explode.Handle(c.Request.Context(), body)
	c.Data(http.StatusOK, "application/json; charset=utf-8", reply)
}

func (rs *RestServer) handleSnapshot(c *gin.Context) {
	if rs.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "Хранилище снимков не настроено"})
		return
	}
	if err := rs.engine.SaveSnapshot(c.Request.Context(), rs.snapshots); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок сохранён",
		Data:    gin.H{"tracked": rs.engine.Stats().Tracked},
	})
}

func (rs *RestServer) handleGetWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: rs.webhooks.GetWebhooks()})
}

func (rs *RestServer) handleCreateWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса: " + err.Error()})
		return
	}
	created := rs.webhooks.AddWebhook(webhook)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Webhook создан", Data: created})
}

func (rs *RestServer) handleDeleteWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный ID"})
		return
	}
	if !rs.webhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Webhook не найден"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Webhook удалён"})
}

func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: GetEventTypes()})
}
