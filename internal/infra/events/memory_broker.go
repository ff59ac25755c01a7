package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
)

var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker es un broker en proceso con la misma semántica que un topic de
// Kafka: particiones por hash de la key, offsets confirmados por grupo y
// re-entrega de lo no confirmado cuando un reader vuelve a empezar.
type MemoryBroker struct {
	topic string

	mu         sync.Mutex
	partitions [][]kafka.Message
	committed  map[string][]int64
	notify     chan struct{}
	closed     bool
}

func NewMemoryBroker(topic string, partitions int) *MemoryBroker {
	if partitions < 1 {
		partitions = 1
	}
	return &MemoryBroker{
		topic:      topic,
		partitions: make([][]kafka.Message, partitions),
		committed:  make(map[string][]int64),
		notify:     make(chan struct{}),
	}
}

func (b *MemoryBroker) partitionFor(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(len(b.partitions)))
}

func (b *MemoryBroker) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	for _, m := range msgs {
		p := b.partitionFor(m.Key)
		m.Topic = b.topic
		m.Partition = p
		m.Offset = int64(len(b.partitions[p]))
		if m.Time.IsZero() {
			m.Time = time.Now().UTC()
		}
		b.partitions[p] = append(b.partitions[p], m)
	}

	// despierta a los readers bloqueados
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Close del broker: los readers devuelven io.EOF cuando agotan lo pendiente.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
	return nil
}

// Committed devuelve el siguiente offset a leer por el grupo en la partición.
func (b *MemoryBroker) Committed(group string, partition int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	offsets, ok := b.committed[group]
	if !ok || partition >= len(offsets) {
		return 0
	}
	return offsets[partition]
}

// Partitions es el número de particiones del topic.
func (b *MemoryBroker) Partitions() int {
	return len(b.partitions)
}

// Reader crea el miembro member (de members) del grupo group. Cada miembro se
// queda con las particiones p tales que p % members == member.
func (b *MemoryBroker) Reader(group string, member, members int) *MemoryReader {
	if members < 1 {
		members = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	offsets, ok := b.committed[group]
	if !ok {
		offsets = make([]int64, len(b.partitions))
		b.committed[group] = offsets
	}

	r := &MemoryReader{
		broker: b,
		group:  group,
		next:   make(map[int]int64),
		done:   make(chan struct{}),
	}
	for p := range b.partitions {
		if p%members == member {
			r.parts = append(r.parts, p)
			r.next[p] = offsets[p]
		}
	}
	return r
}

// MemoryReader implementa MessageReader sobre un MemoryBroker.
type MemoryReader struct {
	broker *MemoryBroker
	group  string
	parts  []int
	next   map[int]int64
	rr     int

	closeOnce sync.Once
	done      chan struct{}
}

func (r *MemoryReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		b := r.broker
		b.mu.Lock()
		for i := 0; i < len(r.parts); i++ {
			p := r.parts[(r.rr+i)%len(r.parts)]
			if off := r.next[p]; off < int64(len(b.partitions[p])) {
				msg := b.partitions[p][off]
				r.next[p] = off + 1
				r.rr = (r.rr + i + 1) % len(r.parts)
				b.mu.Unlock()
				return msg, nil
			}
		}
		if b.closed {
			b.mu.Unlock()
			return kafka.Message{}, io.EOF
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-r.done:
			return kafka.Message{}, io.EOF
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		}
	}
}

// CommitMessages avanza el offset del grupo; nunca retrocede.
func (r *MemoryReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	offsets := b.committed[r.group]
	for _, m := range msgs {
		if m.Partition < 0 || m.Partition >= len(offsets) {
			continue
		}
		if m.Offset+1 > offsets[m.Partition] {
			offsets[m.Partition] = m.Offset + 1
		}
	}
	return nil
}

func (r *MemoryReader) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

// Verificación estática
var (
	_ MessageWriter = (*MemoryBroker)(nil)
	_ MessageReader = (*MemoryReader)(nil)
)
