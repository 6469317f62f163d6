package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/store/core"
)

// notifier implementa core.Notifier sobre LISTEN/NOTIFY.
//
// Los triggers de migrations/postgres publican en <tabla>_changes un JSON
// con la forma de domain.ChangeEvent. Cada suscripción toma una conexión
// dedicada del pool y la retiene hasta Close.
type notifier struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewNotifier crea el notifier sobre el pool dado.
func NewNotifier(pool *pgxpool.Pool) core.Notifier {
	return &notifier{pool: pool, log: logger.Named("pg.notifier")}
}

func (n *notifier) Subscribe(ctx context.Context, collection domain.Collection, filter *domain.Filter) (core.Subscription, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("colección desconocida %q: %w", collection, domain.ErrInvalid)
	}
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: acquire: %w", collection, err)
	}

	channel := string(collection) + "_changes"
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("subscribe %s: listen: %w", collection, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		conn:    conn,
		filter:  filter,
		events:  make(chan domain.ChangeEvent, 64),
		cancel:  cancel,
		log:     n.log.With(logger.Collection(string(collection))),
		channel: channel,
	}
	go sub.loop(subCtx)
	return sub, nil
}

type subscription struct {
	conn    *pgxpool.Conn
	filter  *domain.Filter
	events  chan domain.ChangeEvent
	cancel  context.CancelFunc
	log     *zap.Logger
	channel string

	closeOnce sync.Once
}

func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	return nil
}

func (s *subscription) loop(ctx context.Context) {
	defer func() {
		s.conn.Release()
		close(s.events)
	}()
	for {
		notification, err := s.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Close() o shutdown
			}
			s.log.Warn("suscripción caída", logger.Err(err))
			return
		}
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			s.log.Warn("payload de notificación inválido", logger.Err(err))
			continue
		}
		if !s.matches(ev) {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		default:
			// consumidor lento: el evento se pierde y la consistencia
			// queda a cargo del próximo reload completo
			s.log.Warn("buffer de eventos lleno, evento descartado",
				logger.RecordID(ev.RecordID), logger.Operation(string(ev.Op)))
		}
	}
}

// matches aplica el filtro de igualdad de columna contra los campos del
// payload (el trigger incluye los campos de la fila también en delete).
func (s *subscription) matches(ev domain.ChangeEvent) bool {
	if s.filter == nil {
		return true
	}
	v, ok := ev.NewFields[s.filter.Column]
	if !ok {
		return false
	}
	str, _ := v.(string)
	return str == s.filter.Value
}
