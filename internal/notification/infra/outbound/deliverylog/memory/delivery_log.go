package memory

import (
	"context"
	"sync"
	"time"

	"github.com/davicafu/usersync/internal/notification/domain"
)

// DeliveryLogMemory es un buffer circular con los últimos intentos.
type DeliveryLogMemory struct {
	mu    sync.Mutex
	items []domain.DeliveryAttempt
	next  int
	full  bool
}

func NewDeliveryLogMemory(capacity int) *DeliveryLogMemory {
	if capacity < 1 {
		capacity = 1
	}
	return &DeliveryLogMemory{items: make([]domain.DeliveryAttempt, capacity)}
}

func (l *DeliveryLogMemory) Record(_ context.Context, attempt domain.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = attempt
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent devuelve hasta limit intentos, del más antiguo al más reciente.
func (l *DeliveryLogMemory) Recent(_ context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []domain.DeliveryAttempt
	if l.full {
		ordered = append(ordered, l.items[l.next:]...)
	}
	ordered = append(ordered, l.items[:l.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered, nil
}

// FailureRate solo ve lo que queda en el buffer.
func (l *DeliveryLogMemory) FailureRate(ctx context.Context, start, end time.Time) (float64, error) {
	all, _ := l.Recent(ctx, 0)
	var total, failed int
	for _, a := range all {
		if a.At.Before(start) || a.At.After(end) {
			continue
		}
		total++
		if !a.Success {
			failed++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// Verificación estática
var _ domain.DeliveryLog = (*DeliveryLogMemory)(nil)
