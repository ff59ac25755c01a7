package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/config"
	infraMongo "github.com/davicafu/usersync/internal/infra/db/mongodb"
	infraPostgres "github.com/davicafu/usersync/internal/infra/db/postgres"
	infraSQLite "github.com/davicafu/usersync/internal/infra/db/sqlite"
	infraEvents "github.com/davicafu/usersync/internal/infra/events"
	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedCache "github.com/davicafu/usersync/internal/shared/infra/platform/cache"
	userDomain "github.com/davicafu/usersync/internal/user/domain"
	userCache "github.com/davicafu/usersync/internal/user/infra/outbound/cache"
	userMemory "github.com/davicafu/usersync/internal/user/infra/outbound/db/memory"
	userMongo "github.com/davicafu/usersync/internal/user/infra/outbound/db/mongodb"
	userPostgres "github.com/davicafu/usersync/internal/user/infra/outbound/db/postgre"
	userSQLite "github.com/davicafu/usersync/internal/user/infra/outbound/db/sqlite"
)

// Store agrupa lo que el servicio de usuarios necesita del driver elegido.
type Store struct {
	Users  userDomain.UserStore
	Outbox userDomain.OutboxStore
	Relay  sharedDomain.OutboxRepository
	close  func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore abre el almacenamiento configurado (sqlite|postgres|mongodb|memory).
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		if err := userSQLite.InitSQLite(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		repo := userSQLite.NewUserRepoSQLite(db)
		log.Info("🗄️ Usando SQLite", zap.String("path", cfg.SQLitePath))
		return &Store{Users: repo, Outbox: repo, Relay: infraSQLite.NewOutboxRepoSQLite(db), close: db.Close}, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := userPostgres.InitPostgres(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		repo := userPostgres.NewUserRepoPostgres(db)
		log.Info("🗄️ Usando PostgreSQL")
		return &Store{Users: repo, Outbox: repo, Relay: infraPostgres.NewOutboxRepoPostgres(db), close: db.Close}, nil

	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		repo, err := userMongo.NewUserRepoMongoDB(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Info("🗄️ Usando MongoDB", zap.String("database", cfg.MongoDatabase))
		return &Store{
			Users:  repo,
			Outbox: repo,
			Relay:  infraMongo.NewOutboxRepoMongoDB(client, cfg.MongoDatabase),
			close:  func() error { return client.Disconnect(context.Background()) },
		}, nil

	case "memory":
		repo := userMemory.NewUserRepoMemory()
		log.Info("🗄️ Usando store en memoria")
		return &Store{Users: repo, Outbox: repo, Relay: repo}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// NewCache devuelve Redis si está configurado y responde; si no, cache en memoria.
func NewCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (sharedCache.Cache, *redis.Client) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Info("✅ Redis conectado, cache habilitado")
			return userCache.NewRedisCache(rdb, cfg.CacheTTL), rdb
		}
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		_ = rdb.Close()
	}
	return userCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL), nil
}

// Broker da acceso al topic de eventos de usuario, ya sea Kafka o el broker
// en memoria. En modo memoria productor y consumidor deben vivir en el mismo
// proceso.
type Broker struct {
	Topic  string
	Writer infraEvents.MessageWriter
	memory *infraEvents.MemoryBroker
	cfg    *config.Config
}

func NewBroker(cfg *config.Config, log *zap.Logger) (*Broker, error) {
	b := &Broker{Topic: cfg.KafkaTopicUser, cfg: cfg}
	switch cfg.BrokerDriver {
	case "kafka":
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))
		// El balancer Hash manda cada email siempre a la misma partición.
		b.Writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaTopicUser,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		}
	case "memory":
		log.Info("⚡️ Usando broker en memoria", zap.Int("partitions", cfg.MemoryPartitions))
		b.memory = infraEvents.NewMemoryBroker(cfg.KafkaTopicUser, cfg.MemoryPartitions)
		b.Writer = b.memory
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}
	return b, nil
}

// Readers crea n consumidores del mismo grupo; el broker reparte las
// particiones entre ellos.
func (b *Broker) Readers(group string, n int) []infraEvents.MessageReader {
	if n < 1 {
		n = 1
	}
	readers := make([]infraEvents.MessageReader, 0, n)
	for i := 0; i < n; i++ {
		if b.memory != nil {
			readers = append(readers, b.memory.Reader(group, i, n))
			continue
		}
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.cfg.KafkaBrokers,
			Topic:    b.Topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}))
	}
	return readers
}

func (b *Broker) Close() error {
	return b.Writer.Close()
}

// closeAll cierra en orden inverso y acumula los errores.
func closeAll(closers ...func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
