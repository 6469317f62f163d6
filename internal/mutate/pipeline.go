// Package mutate implementa el pipeline de mutación optimista: validar,
// aplicar local, persistir remoto y disparar el sync de calendario.
//
// El orden es deliberado: la superficie ve el cambio antes de que el store
// remoto confirme. Si la escritura remota falla, los campos tocados se
// revierten al snapshot previo y el error se reporta al caller.
package mutate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/domain/derive"
	"github.com/dcastineira/procesos/internal/metrics"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/store/core"
	"github.com/dcastineira/procesos/internal/validation"
)

// Syncer recibe los disparos de sincronización externa tras una mutación
// confirmada. Las implementaciones no devuelven error: el sync nunca
// condiciona el resultado de la mutación.
type Syncer interface {
	Creado(ctx context.Context, rec domain.Record)
	TituloCambiado(ctx context.Context, rec domain.Record, prevTitulo string)
	EstadoCambiado(ctx context.Context, rec domain.Record)
	FechaCambiada(ctx context.Context, rec domain.Record)
	DescripcionCambiada(ctx context.Context, rec domain.Record)
}

// Pipeline orquesta mutaciones de una colección contra su Store local y el
// repositorio remoto.
type Pipeline struct {
	repo   core.RecordRepository
	store  *records.Store
	syncer Syncer
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewPipeline arma el pipeline. syncer puede ser nil (sin sync externo).
func NewPipeline(repo core.RecordRepository, store *records.Store, syncer Syncer) *Pipeline {
	return &Pipeline{
		repo:   repo,
		store:  store,
		syncer: syncer,
		log:    logger.Named("mutate").With(logger.Collection(string(store.Collection()))),
	}
}

// Mutate aplica un cambio de campo único más sus derivados.
func (p *Pipeline) Mutate(ctx context.Context, id, field string, value any) error {
	collection := p.store.Collection()
	if err := validation.Mutation(field, value); err != nil {
		metrics.MutationsTotal.WithLabelValues(string(collection), "invalid").Inc()
		return err
	}

	prev, ok := p.store.Get(id)
	if !ok {
		return fmt.Errorf("registro %q: %w", id, domain.ErrNotFound)
	}

	batch := domain.Fields{field: value}
	for k, v := range derive.Fields(collection, field, value, time.Now()) {
		batch[k] = v
	}

	// Aplicación optimista: la superficie ve el cambio ya.
	p.store.Upsert(id, batch)

	if err := p.repo.UpdateFields(ctx, collection, id, batch); err != nil {
		p.rollback(id, prev, batch)
		metrics.MutationsTotal.WithLabelValues(string(collection), "error").Inc()
		p.log.Warn("la escritura remota falló, mutación revertida",
			logger.RecordID(id),
			logger.Field(field),
			logger.Err(err))
		return fmt.Errorf("persistir mutación de %q: %w", field, err)
	}
	metrics.MutationsTotal.WithLabelValues(string(collection), "ok").Inc()

	p.dispatchSync(ctx, id, field, prev)
	return nil
}

// Create da de alta un registro: alta optimista local, insert remoto y
// disparo de sync de alta.
func (p *Pipeline) Create(ctx context.Context, rec domain.Record) (string, error) {
	collection := p.store.Collection()
	if err := validation.Mutation(domain.FieldTitulo, rec.Field(domain.FieldTitulo)); err != nil {
		metrics.MutationsTotal.WithLabelValues(string(collection), "invalid").Inc()
		return "", err
	}
	if err := validation.Mutation(domain.FieldEstadoID, rec.Field(domain.FieldEstadoID)); err != nil {
		metrics.MutationsTotal.WithLabelValues(string(collection), "invalid").Inc()
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Collection = collection

	p.store.Merge(rec)

	if err := p.repo.Insert(ctx, &rec); err != nil {
		p.store.Remove(rec.ID)
		metrics.RollbacksTotal.Inc()
		metrics.MutationsTotal.WithLabelValues(string(collection), "error").Inc()
		p.log.Warn("el alta remota falló, registro revertido",
			logger.RecordID(rec.ID),
			logger.Err(err))
		return "", fmt.Errorf("insertar registro: %w", err)
	}
	metrics.MutationsTotal.WithLabelValues(string(collection), "ok").Inc()

	if p.syncer != nil {
		p.async(ctx, func(ctx context.Context) {
			p.syncer.Creado(ctx, rec)
		})
	}
	return rec.ID, nil
}

// Delete borra el registro: baja optimista local y delete remoto. Si el
// delete falla, el snapshot previo vuelve a su posición original en el
// orden de listado.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	collection := p.store.Collection()
	prev, pos, ok := p.store.Take(id)
	if !ok {
		return fmt.Errorf("registro %q: %w", id, domain.ErrNotFound)
	}

	if err := p.repo.Delete(ctx, collection, id); err != nil {
		p.store.Restore(prev, pos)
		metrics.RollbacksTotal.Inc()
		metrics.MutationsTotal.WithLabelValues(string(collection), "error").Inc()
		return fmt.Errorf("borrar registro: %w", err)
	}
	metrics.MutationsTotal.WithLabelValues(string(collection), "ok").Inc()
	return nil
}

// Wait espera los disparos de sync en vuelo. Pensado para shutdown y tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// rollback revierte exactamente las claves del batch al valor del snapshot.
// Revertir por clave y no por registro respeta last-writer-wins: campos no
// tocados por esta mutación quedan como estén.
func (p *Pipeline) rollback(id string, prev domain.Record, batch domain.Fields) {
	revert := make(domain.Fields, len(batch))
	for k := range batch {
		if v, ok := prev.Fields[k]; ok {
			revert[k] = v
		} else {
			revert[k] = nil
		}
	}
	p.store.Upsert(id, revert)
	metrics.RollbacksTotal.Inc()
}

// dispatchSync mapea el campo mutado al disparo de calendario que toca.
func (p *Pipeline) dispatchSync(ctx context.Context, id, field string, prev domain.Record) {
	if p.syncer == nil {
		return
	}
	rec, ok := p.store.Get(id)
	if !ok {
		return
	}
	switch field {
	case domain.FieldTitulo:
		prevTitulo := prev.Field(domain.FieldTitulo)
		p.async(ctx, func(ctx context.Context) {
			p.syncer.TituloCambiado(ctx, rec, prevTitulo)
		})
	case domain.FieldEstadoID:
		p.async(ctx, func(ctx context.Context) {
			p.syncer.EstadoCambiado(ctx, rec)
		})
	case domain.FieldFecha, domain.FieldHoraInicio, domain.FieldHoraFin:
		p.async(ctx, func(ctx context.Context) {
			p.syncer.FechaCambiada(ctx, rec)
		})
	case domain.FieldDescripcion:
		p.async(ctx, func(ctx context.Context) {
			p.syncer.DescripcionCambiada(ctx, rec)
		})
	}
}

// async corre el disparo fuera del camino de la mutación. El contexto se
// desacopla del request: cancelar el request no aborta un sync ya decidido.
func (p *Pipeline) async(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(ctx)
	}()
}
