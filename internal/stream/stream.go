// Package stream consume el canal push de cambios del store remoto y
// reconcilia el estado local re-leyendo cada registro notificado.
//
// El canal push entrega eventos sin garantía de orden, por lo que el
// payload del evento nunca se aplica directo: cada notificación dispara
// una re-lectura del registro y es esa lectura la que se absorbe.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/metrics"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/store/core"
)

// Fetcher re-lee un registro completo del store remoto.
type Fetcher interface {
	GetJoined(ctx context.Context, collection domain.Collection, id string) (*domain.Record, error)
}

// Listener reconcilia un Store local contra una suscripción de cambios.
type Listener struct {
	notifier core.Notifier
	fetcher  Fetcher
	store    *records.Store
	filter   *domain.Filter
	settle   time.Duration

	group  singleflight.Group
	log    *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewListener arma el listener para la colección del store dado. El filtro
// es opcional y acota los eventos en origen (ej: tareas de un proceso).
func NewListener(notifier core.Notifier, fetcher Fetcher, store *records.Store, filter *domain.Filter, settle time.Duration) *Listener {
	if settle <= 0 {
		settle = 350 * time.Millisecond
	}
	return &Listener{
		notifier: notifier,
		fetcher:  fetcher,
		store:    store,
		filter:   filter,
		settle:   settle,
		log:      logger.Named("stream").With(logger.Collection(string(store.Collection()))),
	}
}

// Run abre la suscripción y procesa eventos hasta que el contexto muera
// o se llame Close. Bloquea; correr en su propia goroutine.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.cancel = cancel

	sub, err := l.notifier.Subscribe(ctx, l.store.Collection(), l.filter)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				l.wg.Wait()
				return nil
			}
			l.dispatch(ctx, ev)
		}
	}
}

// Close corta el listener y espera los refetch en vuelo.
func (l *Listener) Close() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
	})
}

// Wait bloquea hasta que terminen los refetch disparados hasta ahora.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) dispatch(ctx context.Context, ev domain.ChangeEvent) {
	metrics.StreamEventsTotal.WithLabelValues(string(ev.Collection), string(ev.Op)).Inc()

	if ev.Op == domain.OpDelete {
		// El borrado no tiene nada que re-leer: se aplica directo.
		l.store.Remove(ev.OldID)
		return
	}
	if ev.RecordID == "" {
		l.log.Warn("evento sin record id, descartado")
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.refetch(ctx, ev.RecordID)
	}()
}

// refetch espera la ventana de asentamiento y re-lee el registro. Eventos
// concurrentes del mismo registro colapsan en una sola lectura.
func (l *Listener) refetch(ctx context.Context, id string) {
	if err := sleepContext(ctx, l.settle); err != nil {
		return
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		return l.fetcher.GetJoined(ctx, l.store.Collection(), id)
	})
	if err != nil {
		// Registro borrado entre evento y lectura: quitar del estado local.
		if errors.Is(err, domain.ErrNotFound) {
			l.store.Remove(id)
			return
		}
		metrics.StreamRefetchFailures.Inc()
		l.log.Warn("refetch falló, evento descartado",
			logger.RecordID(id),
			logger.Err(err))
		return
	}
	rec := v.(*domain.Record)
	l.store.Merge(*rec)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
