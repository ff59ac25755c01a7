package limiter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter es un fixed window por key. Las keys son independientes entre sí.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Config struct {
	Requests int64         `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

func DefaultConfig() Config {
	return Config{Requests: 20, Window: time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Requests <= 0 {
		c.Requests = d.Requests
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

func result(hits, max int64, ttl, window time.Duration) Result {
	allowed := hits <= max
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(window.Seconds())) * time.Second
		}
	}
	return res
}

// ---------------- En memoria ----------------

// MemoryLimiter guarda un contador por key y ventana en go-cache; las
// entradas caducan solas al terminar la ventana.
type MemoryLimiter struct {
	cfg   Config
	now   func() time.Time
	store *gocache.Cache
	mu    sync.Mutex
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		cfg:   cfg,
		now:   time.Now,
		store: gocache.New(2*cfg.Window, 2*cfg.Window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.cfg.Window)
	ttl := winStart.Add(l.cfg.Window).Sub(now)
	k := fmt.Sprintf("%s:%d", key, winStart.UnixNano())

	// Add + IncrementInt64 no es atómico como par: el mutex evita que dos
	// primeras peticiones se pisen.
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Add(k, int64(1), ttl+l.cfg.Window); err == nil {
		return result(1, l.cfg.Requests, ttl, l.cfg.Window), nil
	}
	hits, err := l.store.IncrementInt64(k, 1)
	if err != nil {
		return Result{}, err
	}
	return result(hits, l.cfg.Requests, ttl, l.cfg.Window), nil
}

// ---------------- Redis ----------------

// RedisLimiter: fixed window sencillo (INCR + EXPIRE), compartido entre
// réplicas del gateway.
type RedisLimiter struct {
	Client *redis.Client
	Prefix string
	cfg    Config
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, cfg Config) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, cfg: cfg.withDefaults(), now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.cfg.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// set expiry on first hit
	window := ttl.Val()
	if incr.Val() == 1 {
		if err := l.Client.PExpire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			return Result{}, err
		}
		window = l.cfg.Window
	}
	return result(incr.Val(), l.cfg.Requests, window, l.cfg.Window), nil
}

// Verificación estática
var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
