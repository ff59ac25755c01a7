package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/usersync/internal/config"
	"github.com/davicafu/usersync/internal/gateway/limiter"
	"github.com/davicafu/usersync/internal/gateway/proxy"
	infraEvents "github.com/davicafu/usersync/internal/infra/events"
	notifApp "github.com/davicafu/usersync/internal/notification/application"
	notifDomain "github.com/davicafu/usersync/internal/notification/domain"
	notifEvents "github.com/davicafu/usersync/internal/notification/infra/inbound/events"
	notifHttp "github.com/davicafu/usersync/internal/notification/infra/inbound/http"
	deliveryCH "github.com/davicafu/usersync/internal/notification/infra/outbound/deliverylog/clickhouse"
	deliveryMemory "github.com/davicafu/usersync/internal/notification/infra/outbound/deliverylog/memory"
	"github.com/davicafu/usersync/internal/notification/infra/outbound/email"
	sharedHttp "github.com/davicafu/usersync/internal/shared/infra/http"
	sharedCache "github.com/davicafu/usersync/internal/shared/infra/platform/cache"
	"github.com/davicafu/usersync/internal/shared/infra/relayer"
	userApp "github.com/davicafu/usersync/internal/user/application"
	userDomain "github.com/davicafu/usersync/internal/user/domain"
	userHttp "github.com/davicafu/usersync/internal/user/infra/inbound/http"
	userEvents "github.com/davicafu/usersync/internal/user/infra/outbound/events"
)

const (
	shutdownTimeout     = 10 * time.Second
	deliveryLogCapacity = 1000
)

// ---------------- User service ----------------

// UserAPI es el servicio de usuarios: HTTP, publicación de eventos y, si el
// outbox está activo, el relayer.
type UserAPI struct {
	Service   *userApp.UserService
	Router    *gin.Engine
	publisher *infraEvents.AsyncPublisher
	relayer   *relayer.Worker
	log       *zap.Logger
}

func NewUserAPI(cfg *config.Config, store *Store, cache sharedCache.Cache, broker *Broker, log *zap.Logger) *UserAPI {
	kafkaPublisher := infraEvents.NewKafkaPublisher(broker.Writer, broker.Topic, log.Named("publisher"),
		infraEvents.WithRetry(cfg.Publisher.MaxAttempts, cfg.Publisher.Backoff))
	async := infraEvents.NewAsyncPublisher(kafkaPublisher, broker.Topic,
		cfg.Publisher.Workers, cfg.Publisher.QueueSize, cfg.Publisher.Timeout, log.Named("publisher"))

	opts := []userApp.Option{userApp.WithCacheTTL(cfg.CacheTTL)}
	var worker *relayer.Worker
	if cfg.OutboxEnabled {
		// El relayer publica de forma síncrona: un fallo corta el lote.
		opts = append(opts, userApp.WithOutbox(store.Outbox))
		worker = relayer.NewOutboxWorker(store.Relay, kafkaPublisher, userDomain.NewEventRegistry(),
			cfg.OutboxPeriod, cfg.OutboxLimit, log.Named("relayer"))
		log.Info("📦 Outbox activado", zap.Duration("period", cfg.OutboxPeriod))
	}

	service := userApp.NewUserService(store.Users, cache, userEvents.NewUserEventPublisher(async), log, opts...)

	router := sharedHttp.NewEngine(log)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	userHttp.RegisterUserRoutes(router, userHttp.NewUserHandler(service, log))

	return &UserAPI{Service: service, Router: router, publisher: async, relayer: worker, log: log}
}

// Run sirve HTTP hasta que ctx se cancele y después vacía la cola del publisher.
func (a *UserAPI) Run(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.relayer != nil {
		g.Go(func() error {
			a.relayer.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return Serve(gctx, addr, a.Router, a.log)
	})
	err := g.Wait()

	if cerr := a.Close(); cerr != nil {
		a.log.Warn("⚠️ Eventos pendientes sin publicar al cerrar", zap.Error(cerr))
	}
	return err
}

// Close espera a que el publisher vacíe sus colas.
func (a *UserAPI) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.publisher.Close(ctx)
}

// ---------------- Notification service ----------------

// Notifier consume los eventos de usuario y envía las notificaciones.
type Notifier struct {
	Service  *notifApp.NotificationService
	Sender   notifDomain.Sender
	Delivery notifDomain.DeliveryLog
	Router   *gin.Engine
	consumer *infraEvents.ConsumerAdapter
	closers  []func() error
	log      *zap.Logger
}

func NewNotifier(ctx context.Context, cfg *config.Config, broker *Broker, log *zap.Logger) (*Notifier, error) {
	n := &Notifier{log: log}

	if cfg.SMTP.Host != "" {
		n.Sender = email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.TLSMode, log.Named("smtp"))
		log.Info("📧 SMTP configurado", zap.String("host", cfg.SMTP.Host), zap.Int("port", cfg.SMTP.Port))
	} else {
		n.Sender = email.NewLogSender(log.Named("mail"))
		log.Warn("⚠️ SMTP_HOST vacío, las notificaciones solo se registran en el log")
	}

	if cfg.ClickHouseAddr != "" {
		repo, err := deliveryCH.NewDeliveryLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
		if err != nil {
			return nil, err
		}
		if err := repo.InitSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("init clickhouse schema: %w", err)
		}
		n.Delivery = repo
		n.closers = append(n.closers, repo.Close)
		log.Info("📊 Entregas registradas en ClickHouse", zap.String("addr", cfg.ClickHouseAddr))
	} else {
		n.Delivery = deliveryMemory.NewDeliveryLogMemory(deliveryLogCapacity)
	}

	n.Service = notifApp.NewNotificationService(n.Sender, n.Delivery, log)

	consumer := notifEvents.NewUserConsumer(n.Service, cfg.Consumer.DedupeTTL, log.Named("consumer"))
	n.consumer = infraEvents.NewConsumerAdapter(
		broker.Readers(cfg.KafkaGroupID, cfg.Consumer.Workers),
		consumer,
		broker.Topic,
		infraEvents.ConsumerOptions{
			MaxAttempts:    cfg.Consumer.MaxAttempts,
			Backoff:        cfg.Consumer.Backoff,
			HandlerTimeout: cfg.Consumer.HandlerTimeout,
		},
		log.Named("consumer"),
	)

	n.Router = sharedHttp.NewEngine(log)
	n.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	notifHttp.RegisterNotificationRoutes(n.Router, notifHttp.NewNotificationHandler(n.Service, log))

	return n, nil
}

// Consume bloquea hasta que ctx se cancele o el broker se cierre.
func (n *Notifier) Consume(ctx context.Context) error {
	return n.consumer.Run(ctx)
}

func (n *Notifier) Run(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Consume(gctx)
	})
	g.Go(func() error {
		return Serve(gctx, addr, n.Router, n.log)
	})
	err := g.Wait()

	if cerr := closeAll(n.closers...); cerr != nil {
		n.log.Warn("⚠️ Error cerrando recursos del notifier", zap.Error(cerr))
	}
	return err
}

// ---------------- Gateway ----------------

// NewGateway monta el gateway con las rutas del fichero configurado o, si no
// hay, las rutas por defecto hacia los dos servicios.
func NewGateway(cfg *config.Config, rdb *redis.Client, reg *prometheus.Registry, log *zap.Logger) (*gin.Engine, error) {
	routes := proxy.DefaultRoutes(cfg.UserServiceURL, cfg.NotificationServiceURL)
	if cfg.GatewayRoutesFile != "" {
		loaded, err := proxy.LoadRoutes(cfg.GatewayRoutesFile)
		if err != nil {
			return nil, err
		}
		routes = loaded
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	opts := []proxy.Option{proxy.WithRegistry(reg), proxy.WithTrustedProxies(cfg.GatewayTrustedProxies)}
	switch cfg.RateLimitBackend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("rate limit backend redis requires REDIS_ADDR")
		}
		opts = append(opts, proxy.WithLimiterFactory(func(r proxy.Route) limiter.Limiter {
			return limiter.NewRedisLimiter(rdb, "usersync:rl:"+r.Name+":", r.Limiter)
		}))
		log.Info("🚦 Rate limit distribuido en Redis")
	case "memory", "":
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}

	g, err := proxy.New(routes, log, opts...)
	if err != nil {
		return nil, err
	}
	return g.Handler(reg), nil
}
