// Package reorder persiste reordenamientos manuales: reescribe el ordinal
// de cada registro según su nueva posición.
//
// Las escrituras son secuenciales y sin transacción. Una falla a mitad de
// camino deja ordinales parcialmente aplicados; PartialError reporta hasta
// dónde se llegó para que el caller re-liste y reconcilie.
package reorder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/metrics"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/store/core"
)

// PartialError indica un reordenamiento aplicado a medias.
type PartialError struct {
	// Applied es la cantidad de ordinales ya escritos antes de la falla.
	Applied int
	// ID es el registro cuya escritura falló.
	ID  string
	Err error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("reordenamiento parcial: %d escritos, falló %q: %v", e.Applied, e.ID, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Reindexer reescribe ordinales de una colección.
type Reindexer struct {
	repo  core.RecordRepository
	store *records.Store
	log   *zap.Logger
}

// NewReindexer arma el reindexador de la colección del store dado.
func NewReindexer(repo core.RecordRepository, store *records.Store) *Reindexer {
	return &Reindexer{
		repo:  repo,
		store: store,
		log:   logger.Named("reorder").With(logger.Collection(string(store.Collection()))),
	}
}

// Apply persiste el nuevo orden: el registro en la posición i recibe
// ordinal i+1. Cada id debe existir en el estado local.
func (r *Reindexer) Apply(ctx context.Context, ids []string) error {
	collection := r.store.Collection()
	for _, id := range ids {
		if _, ok := r.store.Get(id); !ok {
			return fmt.Errorf("registro %q: %w", id, domain.ErrNotFound)
		}
	}

	for i, id := range ids {
		if err := r.repo.UpdateOrdinal(ctx, collection, id, i+1); err != nil {
			r.log.Warn("reordenamiento interrumpido",
				logger.RecordID(id),
				logger.Count(i),
				logger.Err(err))
			return &PartialError{Applied: i, ID: id, Err: err}
		}
		metrics.ReorderWritesTotal.Inc()
	}
	return nil
}
