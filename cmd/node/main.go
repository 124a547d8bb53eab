package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/flashbots/go-utils/cli"
	"github.com/flashbots/mev-bundler/adapters/redis"
	"github.com/flashbots/mev-bundler/bundler"
	"github.com/flashbots/mev-bundler/jsonrpcserver"
	"github.com/flashbots/mev-bundler/marketdata"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	version = "dev" // is set during build process

	// .env must be loaded before the defaults below are read
	_ = godotenv.Load()

	// Default values
	defaultDebug                = os.Getenv("DEBUG") == "1"
	defaultLogProd              = os.Getenv("LOG_PROD") == "1"
	defaultLogService           = os.Getenv("LOG_SERVICE")
	defaultPort                 = cli.GetEnv("PORT", "8080")
	defaultMetricsPort          = cli.GetEnv("METRICS_PORT", "8088")
	defaultRedisEndpoint        = cli.GetEnv("REDIS_ENDPOINT", "")
	defaultEventsChannel        = cli.GetEnv("REDIS_EVENTS_CHANNEL", "bundler_events")
	defaultOpportunitiesChannel = cli.GetEnv("REDIS_OPPORTUNITIES_CHANNEL", "opportunities")
	defaultMarketDataEndpoint   = cli.GetEnv("MARKET_DATA_ENDPOINT", "")
	defaultSubmitRateLimit      = cli.GetEnv("SUBMIT_RATE_LIMIT", "200")
	defaultDispatchWorkers      = cli.GetEnv("DISPATCH_WORKERS", "4")
	defaultTrackerTTL           = cli.GetEnv("BUNDLE_STATUS_TTL", "10m")
	// See `bundler.Config` for more info
	defaultConfigFile = cli.GetEnv("BUNDLER_CONFIG", "bundler.yaml")

	// Flags
	debugPtr                = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr              = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	logServicePtr           = flag.String("log-service", defaultLogService, "'service' tag to logs")
	portPtr                 = flag.String("port", defaultPort, "port to listen on")
	metricsPortPtr          = flag.String("metrics-port", defaultMetricsPort, "port of the metrics and pprof server")
	redisPtr                = flag.String("redis", defaultRedisEndpoint, "redis url string, empty disables the feed and event publishing")
	eventsChannelPtr        = flag.String("events-channel", defaultEventsChannel, "redis pub/sub channel for engine events")
	opportunitiesChannelPtr = flag.String("opportunities-channel", defaultOpportunitiesChannel, "redis pub/sub channel detectors publish opportunities to")
	marketDataPtr           = flag.String("market-data", defaultMarketDataEndpoint, "market data json-rpc endpoint, empty uses static conditions")
	submitRateLimitPtr      = flag.String("submit-rate-limit", defaultSubmitRateLimit, "opportunity submission rate limit (calls per second)")
	dispatchWorkersPtr      = flag.String("dispatch-workers", defaultDispatchWorkers, "number of relay submission workers")
	trackerTTLPtr           = flag.String("bundle-status-ttl", defaultTrackerTTL, "how long bundle statuses are kept")
	configPtr               = flag.String("config", defaultConfigFile, "bundler config file")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		))
	}
	defer func() { _ = logger.Sync() }()
	if *logServicePtr != "" {
		logger = logger.With(zap.String("service", *logServicePtr))
	}

	logger.Info("Starting mev-bundler", zap.String("version", version))

	config, err := bundler.LoadConfig(configFile(logger, *configPtr))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if len(config.Relays) == 0 {
		logger.Info("No relays configured, using simulated relay")
		config.Relays = []bundler.RelayConfig{{Name: "simulated", URL: "simulated://"}}
	}

	rateLimit, err := strconv.ParseFloat(*submitRateLimitPtr, 64)
	if err != nil {
		logger.Fatal("Failed to parse submit rate limit", zap.Error(err))
	}
	dispatchWorkers, err := strconv.Atoi(*dispatchWorkersPtr)
	if err != nil || dispatchWorkers < 1 {
		logger.Fatal("Dispatch workers must be a positive number", zap.String("value", *dispatchWorkersPtr))
	}
	trackerTTL, err := time.ParseDuration(*trackerTTLPtr)
	if err != nil {
		logger.Fatal("Failed to parse bundle status ttl", zap.Error(err))
	}

	var events bundler.EventBackend = bundler.NoopEventBackend{}
	var redisClient *goredis.Client
	if *redisPtr != "" {
		redisOpts, err := goredis.ParseURL(*redisPtr)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		redisClient = goredis.NewClient(redisOpts)
		events = redis.NewEventPublisher(redisClient, *eventsChannelPtr)
	}
	asyncEvents := bundler.NewAsyncEventBackend(logger, events, bundler.DefaultEventQueueSize)

	var market bundler.MarketDataProvider
	if *marketDataPtr != "" {
		market = marketdata.NewJSONRPCProvider(*marketDataPtr, time.Second, 5*time.Second, config.Engine.MarketDataTimeout)
	} else {
		market = marketdata.NewStaticProvider(bundler.DefaultMarketConditions(time.Now()))
	}

	relays, err := bundler.NewRelayBackends(config.Relays, market)
	if err != nil {
		logger.Fatal("Failed to create relay backends", zap.Error(err))
	}

	tracker := bundler.NewBundleTracker(trackerTTL)
	dispatcherConfig := bundler.DefaultDispatcherConfig()
	dispatcherConfig.Workers = dispatchWorkers
	dispatcher := bundler.NewDispatcher(logger, relays, tracker, dispatcherConfig)

	pool := bundler.NewPool(logger, asyncEvents, config.Engine.PoolCapacity, config.Engine.OpportunityTTL)
	optimizer := bundler.NewOptimizer(logger, config.Optimizer, nil)
	risk := bundler.NewRiskAssessor(logger, config.Engine.RiskTolerance)
	engine := bundler.NewEngine(logger, config.Engine, pool, optimizer, risk, market, dispatcher, tracker)

	api := bundler.NewAPI(logger, engine, tracker, rate.Limit(rateLimit), max(int(rateLimit), 1))

	jsonRPCServer, err := jsonrpcserver.NewHandler(jsonrpcserver.Methods{
		bundler.SubmitOpportunityEndpointName: api.SubmitOpportunity,
		bundler.GetBundleStatusEndpointName:   api.GetBundleStatus,
	})
	if err != nil {
		logger.Fatal("Failed to create jsonrpc server", zap.Error(err))
	}

	http.Handle("/", jsonRPCServer)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", *portPtr),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		metricsMux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		metricsMux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		metricsMux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		metricsMux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		metricsMux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

		metricsServer := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%s", *metricsPortPtr),
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           metricsMux,
		}

		err := metricsServer.ListenAndServe()
		if err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return asyncEvents.Run(ctx) })
	if redisClient != nil {
		feed := redis.NewOpportunityFeed(logger, redisClient, *opportunitiesChannelPtr, engine)
		g.Go(func() error { return feed.Run(ctx) })
	}
	g.Go(func() error {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Node stopped with error", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

// configFile returns an empty name when the default config file does not exist, so defaults are used
func configFile(logger *zap.Logger, name string) string {
	if _, err := os.Stat(name); err != nil {
		if name != defaultConfigFile || !errors.Is(err, os.ErrNotExist) {
			logger.Fatal("Failed to read config file", zap.String("file", name), zap.Error(err))
		}
		logger.Info("Config file not found, using defaults", zap.String("file", name))
		return ""
	}
	return name
}
