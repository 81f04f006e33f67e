package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/certhook/certhook/pkg/capacity"
	"github.com/certhook/certhook/pkg/config"
	"github.com/certhook/certhook/pkg/deliver"
	"github.com/certhook/certhook/pkg/engine"
	"github.com/certhook/certhook/pkg/notify"
	"github.com/certhook/certhook/pkg/store/postgres"
	redisclient "github.com/certhook/certhook/pkg/store/redis"
	"github.com/certhook/certhook/pkg/target"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	registry := capacity.NewRegistry()
	registry.Register(capacity.TypeStatic, capacity.NewStaticProvider(0))

	var bus *notify.Bus
	if len(cfg.Redis.Addresses) > 0 {
		redis, err := redisclient.NewClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		registry.Register(capacity.TypeRedis, capacity.NewRedisProvider(redis.Client()))
		bus = notify.NewBus(redis.Client())
	}

	if cfg.Kubernetes.InCluster || cfg.Kubernetes.KubeConfig != "" {
		k8sClient, err := newKubernetesClient(cfg)
		if err != nil {
			logger.Fatal("failed to create kubernetes client", zap.Error(err))
		}
		registry.Register(capacity.TypeKubernetes, capacity.NewKubernetesProvider(k8sClient, cfg.Kubernetes.Namespace))
	}

	// Target validation fails fast here, before the loop starts, against
	// the same config-derived provider set the API server checks.
	targets, err := target.Load(cfg.Targets, capacity.TypesFromConfig(cfg))
	if err != nil {
		logger.Fatal("invalid dispatch target configuration", zap.Error(err))
	}

	router := deliver.NewRouter()
	router.Register(target.CallbackHTTP, deliver.NewHTTPSink(
		&http.Client{Timeout: cfg.Engine.DispatchTimeout},
		cfg.Security.WebhookSecret,
	))
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := deliver.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		defer kafkaSink.Close()
		router.Register(target.CallbackKafka, kafkaSink)
	}

	events := postgres.NewEventRepository(db)
	svc := engine.New(events, targets, registry, router, bus, logger, cfg.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	logger.Info("dispatcher started",
		zap.Int("targets", len(targets)),
		zap.Duration("tick_interval", cfg.Engine.TickInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("dispatcher shutting down")
	cancel()

	select {
	case <-done:
	case <-time.After(cfg.Engine.DispatchTimeout + 5*time.Second):
		logger.Warn("dispatcher shutdown timed out with work in flight")
	}
}

func newKubernetesClient(cfg *config.Config) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error

	if cfg.Kubernetes.InCluster {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubernetes.KubeConfig)
	}
	if err != nil {
		return nil, err
	}

	return kubernetes.NewForConfig(restConfig)
}

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	var logger *zap.Logger
	var err error
	if cfg.Format == "console" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
