package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	sharedCache "github.com/davicafu/usersync/internal/shared/infra/platform/cache"
)

// InMemoryCache implementa la interfaz de caché sobre go-cache. Guarda los
// valores serializados, igual que Redis, para no compartir punteros.
type InMemoryCache struct {
	c *gocache.Cache
}

// Verificación estática
var _ sharedCache.Cache = (*InMemoryCache)(nil)

// NewInMemoryCache crea una nueva instancia de la caché en memoria.
// - defaultTTL: tiempo de vida por defecto de las claves.
// - cleanupInterval: cada cuánto se purgan las claves expiradas.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	return &InMemoryCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	v, ok := c.c.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := v.([]byte)
	if !ok || !sharedCache.Decode(data, dest) {
		c.c.Delete(key)
		return false, nil
	}
	return true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := sharedCache.Encode(val)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.c.Set(key, data, ttl)
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.c.Delete(key)
	return nil
}
