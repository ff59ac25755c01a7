package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const asyncTimeout = 200 * time.Millisecond

// FillGuard ordena los rellenos asíncronos frente a las invalidaciones.
// Un relleno solo se escribe si ninguna invalidación ocurrió desde que se
// tomó su Generation, que debe leerse ANTES de ir al store. Así una lectura
// vieja no puede quedar en caché después de un update.
//
// Solo cubre escrituras de este proceso.
type FillGuard struct {
	mu  sync.Mutex
	gen uint64
}

// Generation se toma antes de leer del store.
func (g *FillGuard) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

// Invalidate avanza la generación y borra la key antes de responder. Un fallo
// al borrar solo se loguea.
func (g *FillGuard) Invalidate(ctx context.Context, cache Cache, key string, log *zap.Logger) {
	g.mu.Lock()
	g.gen++
	g.mu.Unlock()
	Invalidate(ctx, cache, key, log)
}

// AsyncSet actualiza caché en background sin bloquear, salvo que haya habido
// una invalidación después de gen.
func (g *FillGuard) AsyncSet(cache Cache, gen uint64, key string, value interface{}, ttl time.Duration, log *zap.Logger) {
	if cache == nil {
		return
	}

	go func() {
		// Dispara y olvida: la petición original puede haber terminado ya.
		cacheCtx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		// mu se mantiene durante el Set: una invalidación que llegue ahora
		// espera y borra lo que se escriba.
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.gen != gen {
			log.Debug("Cache fill skipped, invalidated meanwhile", zap.String("key", key))
			return
		}
		if err := cache.Set(cacheCtx, key, value, ttl); err != nil {
			log.Warn("Cache update failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}

// Invalidate borra la key antes de responder, para que una lectura posterior
// a una escritura no vea el valor viejo. Un fallo solo se loguea.
func Invalidate(ctx context.Context, cache Cache, key string, log *zap.Logger) {
	if cache == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, asyncTimeout)
	defer cancel()

	if err := cache.Delete(cacheCtx, key); err != nil {
		log.Warn("Cache invalidation failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
