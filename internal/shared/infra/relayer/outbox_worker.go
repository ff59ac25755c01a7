package relayer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedBus "github.com/davicafu/usersync/internal/shared/infra/platform/bus"
)

// MaxUnknownAttempts: lecturas de un evento de tipo no registrado antes de
// descartarlo (marcarlo procesado). Da margen a un despliegue que aún no ha
// llegado a esta réplica.
const MaxUnknownAttempts = 5

// Worker procesa eventos pendientes de la tabla outbox de forma genérica.
// Los eventos se publican en orden de creación. Un fallo de publicación o de
// marcado corta el lote; un tipo desconocido solo bloquea su key.
// No es seguro llamar a ProcessBatch concurrentemente.
type Worker struct {
	repo          sharedDomain.OutboxRepository
	publisher     sharedBus.EventBus
	eventRegistry sharedDomain.EventRegistry
	interval      time.Duration
	batchSize     int
	unknown       map[uuid.UUID]int
	log           *zap.Logger
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	registry sharedDomain.EventRegistry,
	interval time.Duration,
	batchSize int,
	log *zap.Logger,
) *Worker {
	return &Worker{
		repo:          repo,
		publisher:     publisher,
		eventRegistry: registry,
		interval:      interval,
		batchSize:     batchSize,
		unknown:       map[uuid.UUID]int{},
		log:           log,
	}
}

// Start inicia el bucle de polling del worker. Bloquea hasta que ctx se cancele.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch devuelve cuántos eventos se publicaron y marcaron.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	events, err := w.repo.FetchPendingOutbox(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return 0
	}
	if len(events) > 0 {
		w.log.Debug(fmt.Sprintf("📬 %d eventos encontrados para procesar", len(events)))
	}

	done := 0
	blocked := map[string]bool{}
	for _, evt := range events {
		if blocked[evt.Key] {
			continue
		}
		metadata, ok := w.eventRegistry[evt.EventType]
		if !ok {
			// los eventos posteriores de la misma key esperan detrás de este
			blocked[evt.Key] = true
			w.handleUnknown(ctx, evt)
			continue
		}
		if !w.publishAndMark(ctx, evt, metadata) {
			break
		}
		done++
	}
	return done
}

// handleUnknown deja el evento pendiente hasta MaxUnknownAttempts lecturas;
// después lo marca procesado para que no bloquee su key para siempre.
func (w *Worker) handleUnknown(ctx context.Context, evt sharedDomain.OutboxEvent) {
	w.unknown[evt.ID]++
	attempts := w.unknown[evt.ID]
	if attempts < MaxUnknownAttempts {
		w.log.Warn("⚠️ Tipo de evento desconocido en registro",
			zap.String("event_id", evt.ID.String()),
			zap.String("event_type", evt.EventType),
			zap.Int("attempt", attempts),
		)
		return
	}

	if err := w.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
		w.log.Warn("⚠️ No se pudo descartar evento desconocido",
			zap.String("event_id", evt.ID.String()),
			zap.Error(err),
		)
		return
	}
	delete(w.unknown, evt.ID)
	w.log.Error("❌ Evento de tipo desconocido descartado",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.EventType),
		zap.String("key", evt.Key),
		zap.ByteString("payload", evt.Payload),
	)
}

func (w *Worker) publishAndMark(ctx context.Context, evt sharedDomain.OutboxEvent, metadata sharedDomain.EventMetadata) bool {
	// 1. El payload ya es el JSON del contrato: se publica tal cual con su key
	if err := w.publisher.Publish(ctx, sharedBus.RawEvent{Key: evt.Key, Payload: evt.Payload}); err != nil {
		w.log.Warn("⚠️ No se pudo publicar evento",
			zap.String("event_id", evt.ID.String()),
			zap.String("topic", metadata.Topic),
			zap.Error(err),
		)
		return false // No lo marcamos como procesado para que se reintente
	}

	// 2. Marcar como procesado en la DB. Si falla, se volverá a publicar:
	// los consumidores deduplican por eventId.
	if err := w.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
		w.log.Warn("⚠️ No se pudo marcar evento como procesado",
			zap.String("event_id", evt.ID.String()),
			zap.Error(err),
		)
		return false
	}
	w.log.Info("✅ Evento publicado y marcado",
		zap.String("event_id", evt.ID.String()),
		zap.String("topic", metadata.Topic),
	)
	return true
}
