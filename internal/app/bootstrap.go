package app

import (
	"errors"
	"log/slog"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/bot"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/gateway"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/hub"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra/extended"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/infra/storage"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/server"
	"github.com/whizzler-rizzler/market-maker-remixed/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Cache   *service.Cache
	Hub     *hub.Hub
	Poller  *service.Poller
	Engine  *bot.Engine
	Server  *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires every component. Order matters: config and logger first,
// then storage, then the exchange client and everything downstream of it.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Extended Broadcaster...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// A persisted bot config wins over the YAML defaults.
	if saved, err := store.LoadBotConfig(); err == nil {
		cfg.Bot = saved
		slog.Info("✅ Bot config restored from storage", slog.String("market", saved.Market))
	} else if !errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("⚠️ Failed to load persisted bot config", slog.Any("error", err))
	}

	// 4. Exchange client, cache, hub, poller
	client := extended.NewClient(cfg)
	b.Metrics = infra.NewMetrics()
	b.Cache = service.NewCache()
	b.Hub = hub.NewHub(b.Cache, b.Metrics)
	b.Poller = service.NewPoller(cfg, client, b.Cache, b.Hub, b.Metrics)

	// 5. Gateway and quote engine
	gw := gateway.NewGateway(client, store, b.Metrics)
	logBuf := bot.NewLogBuffer()
	b.Engine = bot.NewEngine(cfg.Bot, b.Cache, gw, logBuf)

	// 6. HTTP surface
	b.Server = server.NewServer(cfg, b.Cache, b.Hub, client, gw, b.Engine, logBuf, store, b.Metrics)

	slog.Info("✅ Components wired",
		slog.String("addr", cfg.Server.Addr),
		slog.String("market", cfg.Bot.Market))
	return nil
}
