package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/blastguard/internal/api"
	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/eventbus"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/annel0/blastguard/internal/observability"
	"github.com/annel0/blastguard/internal/storage"
	"github.com/annel0/blastguard/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "Путь к config.yml (по умолчанию $BLASTGUARD_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("💥 Запуск BlastGuard...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	for _, w := range cfg.Validate() {
		logging.Warn("⚠️  config: %s", w)
	}
	loggers := logging.GetLoggerManager()
	loggers.Configure(cfg.Logging.Levels)
	defer loggers.CloseAll()

	node, _ := os.Hostname()
	if node == "" {
		node = "blastguard"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("❌ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ХРАНИЛИЩЕ ===
	snapshots, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		logging.Error("❌ Шина событий недоступна, используется in-memory: %v", err)
		bus = eventbus.NewMemoryBus(4096)
	}
	if _, err := eventbus.StartLoggingListener(bus, logging.GetComponentLogger("eventbus")); err != nil {
		logging.Warn("LoggingListener: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, registry)
	busMetrics.Start()
	sink := eventbus.NewDurabilitySink(bus, node, 0)

	webhooks := api.NewOutboundWebhookManager(node)
	if n := webhooks.LoadConfig(cfg.Webhooks); n > 0 {
		if _, err := webhooks.Attach(ctx, bus); err != nil {
			logging.Error("❌ Подписка webhook'ов: %v", err)
		}
		logging.Info("🔔 Исходящих webhook'ов: %d", n)
	}

	// === ДВИЖОК ===
	hooks, err := cfg.BuildHooks()
	if err != nil {
		log.Fatalf("❌ Ошибка настройки интеграций: %v", err)
	}
	engine := durability.New(cfg.Engine(),
		durability.WithCapabilities(hooks.Capabilities...),
		durability.WithWorlds(cfg.KnownWorlds()...),
		durability.WithEventSink(sink),
		durability.WithMetrics(registry),
		durability.WithLogger(logging.GetDurabilityLogger()),
	)
	if err := engine.LoadSnapshot(ctx, snapshots); err != nil {
		logging.Error("❌ %v", err)
	}

	// === ТРАНСПОРТ ===
	var natsService *transport.Service
	if cfg.Transport.NATSURL != "" {
		natsService, err = transport.NewService(cfg.Transport, engine, node)
		if err != nil {
			logging.Error("❌ NATS транспорт недоступен: %v", err)
		} else if err := natsService.Start(ctx); err != nil {
			logging.Error("❌ Ошибка запуска транспорта: %v", err)
		}
	}

	// === HTTP ===
	extra := map[string]api.StatsProvider{
		"eventbus": func() interface{} { return bus.Metrics() },
	}
	if natsService != nil {
		extra["transport"] = func() interface{} { return natsService.Metrics() }
	}
	restPort := cfg.Server.GetRESTPort()
	rest := api.NewRestServer(api.Config{
		Addr:      fmt.Sprintf(":%d", restPort),
		Engine:    engine,
		Snapshots: snapshots,
		Webhooks:  webhooks,
		Node:      node,
		Stats:     extra,
		Registry:  registry,
	})
	go func() {
		if err := rest.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
		}
	}()

	metricsPort := cfg.Server.GetMetricsPort()
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", metricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("📈 Prometheus /metrics доступен на :%d", metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()

	if cfg.Storage.AutosaveSec > 0 {
		go autosave(ctx, engine, snapshots, time.Duration(cfg.Storage.AutosaveSec)*time.Second)
	}

	logging.Info("✅ BlastGuard запущен: узел=%s хранилище=%s", node, cfg.Storage.Backend)
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := rest.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	_ = metricsServer.Shutdown(stopCtx)
	if natsService != nil {
		if err := natsService.Close(); err != nil {
			logging.Error("❌ Ошибка остановки транспорта: %v", err)
		}
	}

	// Сначала снимок, потом Close: Close отменяет таймеры сброса
	if err := engine.SaveSnapshot(stopCtx, snapshots); err != nil {
		logging.Error("❌ %v", err)
	}
	engine.Close()
	sink.Close()
	webhooks.Close()
	busMetrics.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия шины: %v", err)
	}
	if err := snapshots.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 BlastGuard остановлен (логгеры: %s)", strings.Join(loggers.Components(), ", "))
}

func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(4096), nil
	}
	return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
}

func autosave(ctx context.Context, engine *durability.Engine, store durability.SnapshotStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.SaveSnapshot(ctx, store); err != nil {
				logging.Error("❌ Автосохранение: %v", err)
			}
		}
	}
}
