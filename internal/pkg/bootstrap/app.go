package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/nacos"
	"stockledger/internal/pkg/tracing"
	"stockledger/internal/pkg/utils"
)

// AppCtx 传给各服务的注册函数
type AppCtx struct {
	Ctx    context.Context // 收到退出信号后取消
	Mux    *http.ServeMux
	Config *Config

	workers   []func(ctx context.Context) error
	closers   []func(ctx context.Context) error
	listeners []func(*Config)
}

// Go 注册一个后台任务（Kafka 消费者、过期清理循环等），ctx 取消时应返回
func (a *AppCtx) Go(fn func(ctx context.Context) error) {
	a.workers = append(a.workers, fn)
}

// OnShutdown 注册关停时的清理函数，按注册的逆序执行
func (a *AppCtx) OnShutdown(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// OnConfigChange 注册远端配置变更的回调
func (a *AppCtx) OnConfigChange(fn func(*Config)) {
	a.listeners = append(a.listeners, fn)
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	ConfigPath       string
	RegisterHandlers func(appCtx *AppCtx) error // 每个服务注册自己的 HTTP 路由和后台任务
}

// StartService 封装了通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	// 1. 配置与日志
	cfg, err := LoadConfig(getEnv("CONFIG_PATH", info.ConfigPath))
	if err != nil {
		logger.Init(info.ServiceName, "info")
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("failed to load config")
	}
	if info.ServiceName != "" {
		cfg.App.Name = info.ServiceName
	}
	SetCurrentConfig(cfg)
	logger.Init(cfg.App.Name, cfg.App.LogLevel)
	log := logger.Ctx(context.Background())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Tracer
	tp, err := tracing.InitTracerProvider(cfg.App.Name, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 3. 注册路由与后台任务
	g, gctx := errgroup.WithContext(rootCtx)
	appCtx := &AppCtx{Ctx: gctx, Mux: http.NewServeMux(), Config: cfg}
	appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	appCtx.Mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to register handlers")
		}
	}

	// 4. 远端配置，注册完路由后再监听，回调里能拿到各服务的 listener
	if cfg.Infra.Nacos.Enabled {
		err := WatchRemoteConfig(rootCtx, cfg, func(next *Config) {
			if err := logger.SetLevel(next.App.LogLevel); err != nil {
				log.Warn().Err(err).Msg("invalid log level from remote config")
			}
			for _, fn := range appCtx.listeners {
				fn(next)
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("remote config unavailable, continue with local config")
		}
	}

	// 5. 服务注册
	var naming *nacos.Client
	var ip string
	if cfg.Infra.Nacos.Enabled {
		naming, ip, err = registerInstance(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 6. HTTP Server 与后台任务
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           appCtx.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info().Msgf("%s listening on %s", cfg.App.Name, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	for _, w := range appCtx.workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	// 7. 优雅关停：收到信号或任意后台任务失败
	<-gctx.Done()
	log.Info().Msgf("Shutting down service %s...", cfg.App.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 按顺序执行清理操作 (后进先出)
	if naming != nil {
		if err := naming.DeregisterServiceInstance(cfg.App.Name, ip, cfg.App.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		naming.Close()
	}
	closeConfigClient()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}
	for i := len(appCtx.closers) - 1; i >= 0; i-- {
		if err := appCtx.closers[i](ctx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown hook")
		}
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("background worker exited with error")
	}

	// 最后关闭 Tracer Provider，确保清理过程中的 span 也被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}
	log.Info().Msgf("Service %s gracefully shut down.", cfg.App.Name)
}

func registerInstance(cfg *Config) (*nacos.Client, string, error) {
	serverConfigs, err := nacos.ServerConfigs(cfg.Infra.Nacos.ServerAddrs)
	if err != nil {
		return nil, "", err
	}
	clientConfig := nacos.ClientConfig(cfg.Infra.Nacos.Namespace)
	naming, err := nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, "", err
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		return nil, "", err
	}
	if err := naming.RegisterServiceInstance(cfg.App.Name, ip, cfg.App.Port); err != nil {
		return nil, "", err
	}
	return naming, ip, nil
}

// Getenv 供 cmd 读取少量启动参数
func Getenv(key, fallback string) string {
	return getEnv(key, fallback)
}

// Exit 以非零状态退出，供 cmd 使用
func Exit(err error) {
	logger.Ctx(context.Background()).Error().Err(err).Msg("fatal")
	os.Exit(1)
}
