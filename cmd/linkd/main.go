package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"applinks.local/internal/app/applinks"
	"applinks.local/internal/app/applinks/cache"
	"applinks.local/internal/app/applinks/deferred"
	"applinks.local/internal/app/applinks/httpapi"
	"applinks.local/internal/app/applinks/linkapi"
	"applinks.local/internal/app/applinks/stats"
	"applinks.local/internal/app/applinks/store"
	"applinks.local/internal/app/applinks/store/pgstore"
	"applinks.local/internal/app/applinks/store/redisstore"
	"applinks.local/internal/platform/auth"
	platformcache "applinks.local/internal/platform/cache"
	"applinks.local/internal/platform/config"
	"applinks.local/internal/platform/db"
	"applinks.local/internal/platform/httpmiddleware"
	"applinks.local/internal/platform/httpserver"
	"applinks.local/internal/platform/metrics"
	"applinks.local/internal/platform/migrate"
	"applinks.local/internal/platform/ratelimit"
	"applinks.local/internal/platform/trace"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg := config.Load()

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	}
	slog.SetDefault(slog.New(h).With("service", cfg.ServiceName))

	//DB：postgres 状态或统计开启时才连
	var dbPool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		// 连接数跟 worker pool 对齐，再留一半给统计写入
		pool, err := db.Open(context.Background(), cfg.DBDSN, cfg.ServiceName, int32(cfg.MaxConcurrency+cfg.MaxConcurrency/2))
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		dbPool = pool
		slog.Info("数据库连接成功")

		migCtx, cancelMig := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := migrate.Up(migCtx, dbPool, migrate.Options{Dir: cfg.MigrationsDir})
		cancelMig()
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("数据库迁移完成", "dir", res.Dir, "applied", res.AppliedFiles, "skipped", len(res.SkippedFiles))
	}

	//Redis
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		c, err := platformcache.NewRedisClient(context.Background(), platformcache.RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			ClientName: cfg.ServiceName,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()
		redisClient = c
	}

	//限流器
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewLimiter(redisClient)
	} else {
		slog.Warn("RateLimit disabled by config", "RATELIMIT_ENABLED", false)
	}

	//首次启动标记 + 已处理 visit
	processed, prefs, err := stateBackend(cfg, dbPool, redisClient)
	if err != nil {
		log.Fatal(err)
	}

	//链接缓存：ristretto L1 + redis L2
	var localCache *cache.LocalCache
	if cfg.LinkCacheEnabled {
		localCache, err = cache.NewLocalCache(100000, 1<<24) // 10万条目，16MB
		if err != nil {
			log.Fatal(err)
		}
	}

	//解析统计（Channel / Kafka / redis stream）
	var collector stats.Collector = stats.Nop{}
	var runStats func(context.Context)
	if cfg.StatsEnabled {
		collector, runStats, err = statsPipeline(cfg, dbPool, redisClient)
		if err != nil {
			log.Fatal(err)
		}
	}

	// JWT
	ts, jwtErr := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL,
		auth.WithPreviousSecrets(cfg.JWTPreviousSecrets...), auth.WithAudience(cfg.JWTAudience))
	if jwtErr != nil {
		log.Fatal(jwtErr)
	}

	metrics.Init()

	if cfg.TracingEnabled {
		shutdown, err := trace.InitTrace(context.Background(), trace.Options{
			Endpoint:       cfg.OtlpGrpcEndpoint,
			ServiceName:    cfg.OtlpServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.TracingSampleRate,
		})
		if err != nil {
			slog.Error("Trace init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					slog.Error(err.Error())
				}
			}()
		}
	} else {
		slog.Warn("Tracing disabled by config", "TRACING_ENABLED", false)
	}

	opts := applinks.Options{
		ServerURL:       cfg.ServerURL,
		APIKey:          cfg.APIKey,
		Domains:         cfg.Domains,
		Schemes:         cfg.Schemes,
		DeferredEnabled: cfg.DeferredEnabled,
		Preferences:     prefs,
		Processed:       processed,
		PendingSize:     cfg.PendingBufferSize,
		MaxConcurrency:  cfg.MaxConcurrency,
		ClientTimeout:   cfg.ClientTimeout,
		LocalCache:      localCache,
		Stats:           collector,
		EnableLogging:   cfg.EnableLogging,
	}
	if cfg.LinkCacheEnabled {
		opts.Redis = redisClient
	}
	if cfg.Referrer != "" {
		opts.Referrer = deferred.NewStatic(deferred.ReferrerDetails{Referrer: cfg.Referrer})
	}
	sdk, err := applinks.Init(opts)
	if err != nil {
		log.Fatal(err)
	}

	// 对外业务
	r := chi.NewRouter()
	r.Use(chimw.Recoverer, httpmiddleware.RequestID, chimw.RealIP, httpmiddleware.AccessLog, httpmiddleware.Metrics, httpmiddleware.TraceName)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	streamsCtx, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()
	r.Route("/api/v1", func(api chi.Router) {
		httpapi.RegisterAPIRoutes(api, sdk, ts, limiter, streamsCtx.Done())
	})

	publicHandler := http.Handler(r)
	if cfg.TracingEnabled {
		publicHandler = otelhttp.NewHandler(r, "http")
	}
	// SSE 是长连接，不能有写超时
	publicSrv := httpserver.NewStreaming(cfg.Addr, cfg, publicHandler)
	publicSrv.RegisterOnShutdown(closeStreams)

	// 仅本机/内网
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if dbPool != nil {
			if err := dbPool.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("DB Ping Err"))
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("Redis Ping Err"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	adminMux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"service_name":  cfg.ServiceName,
			"version":       version,
			"commit":        commit,
			"build_time":    buildTime,
			"go_version":    runtime.Version(),
			"sdk_version":   linkapi.Version,
			"state_backend": cfg.StateBackend,
			"pending":       sdk.Pending(),
		}
		if localCache != nil {
			body["link_cache_hit_ratio"] = localCache.HitRatio()
		}
		json.NewEncoder(w).Encode(body)
	})
	if cfg.PprofEnabled {
		adminMux.HandleFunc("/debug/pprof/", pprof.Index)
		adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	adminSrv := httpserver.New(cfg.AdminAddr, cfg, adminMux) // 推荐：127.0.0.1:6060

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsDone := make(chan struct{})
	if runStats != nil {
		go func() {
			defer close(statsDone)
			runStats(stopCtx)
		}()
	} else {
		close(statsDone)
	}

	runErr := httpserver.RunAll(stopCtx, cfg.ShutdownTimeout, publicSrv, adminSrv)
	stop()

	// 先关 SDK，排空 worker pool 和 listener 投递，再关统计
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sdk.Close(closeCtx); err != nil && !errors.Is(err, applinks.ErrClosed) {
		slog.Error("sdk close failed", "err", err)
	}
	collector.Close()
	select {
	case <-statsDone:
	case <-closeCtx.Done():
		slog.Warn("stats consumer did not finish before shutdown timeout")
	}

	if runErr != nil {
		log.Fatal(runErr)
	}
}

// stateBackend 按配置选择 ProcessedStore 和 Preferences；memory 时返回 nil，由 SDK 使用内存实现。
func stateBackend(cfg config.Config, dbPool *pgxpool.Pool, rdb *redis.Client) (store.ProcessedStore, store.Preferences, error) {
	var (
		processed store.ProcessedStore
		prefs     store.Preferences
	)
	switch cfg.StateBackend {
	case config.StateRedis:
		processed = redisstore.NewProcessedStore(rdb, cfg.ServiceName+":", cfg.ProcessedCapacity)
		prefs = redisstore.NewPreferences(rdb, cfg.ServiceName+":")
	case config.StatePostgres:
		processed = pgstore.NewProcessedStore(dbPool, cfg.ProcessedCapacity)
		prefs = pgstore.NewPreferences(dbPool)
	default:
		slog.Info("使用内存保存延迟解析状态，重启后丢失")
		return nil, nil, nil
	}

	//持久化存储前面挡一层布隆过滤器：预期 10 万 visit，1% 误判率
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	guard, err := store.NewBloomGuard(ctx, processed, 100_000, 0.01)
	if err != nil {
		return nil, nil, err
	}
	return guard, prefs, nil
}

// statsPipeline 初始化统计收集器（根据配置选择 Channel、Kafka 或 redis stream）和对应的消费者。
func statsPipeline(cfg config.Config, dbPool *pgxpool.Pool, rdb *redis.Client) (stats.Collector, func(context.Context), error) {
	writer := stats.NewPGWriter(dbPool)
	switch cfg.StatsTransport {
	case config.StatsKafka:
		slog.Info("使用 Kafka 收集解析统计", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		consumer := stats.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, writer)
		return stats.NewKafkaCollector(cfg.KafkaBrokers, cfg.KafkaTopic), func(ctx context.Context) {
			defer consumer.Close()
			consumer.Run(ctx)
		}, nil
	case config.StatsRedis:
		slog.Info("使用 redis stream 收集解析统计", "stream", cfg.StatsStream)
		streamCfg := stats.StreamConfig{Stream: cfg.StatsStream, Consumer: cfg.ServiceName, MaxLen: 1_000_000}
		consumer, err := stats.NewStreamConsumer(rdb, streamCfg, writer)
		if err != nil {
			return nil, nil, err
		}
		collector, err := stats.NewStreamCollector(rdb, streamCfg)
		if err != nil {
			return nil, nil, err
		}
		return collector, consumer.Run, nil
	default:
		slog.Info("使用 Channel 收集解析统计")
		collector := stats.NewChannelCollector(10000)
		return collector, stats.NewConsumer(writer, collector).Run, nil
	}
}
