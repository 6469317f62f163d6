package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/mutate"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/reorder"
	"github.com/dcastineira/procesos/internal/validation"
)

// Surface agrupa las piezas de una colección expuesta por la API.
type Surface struct {
	Store     *records.Store
	Pipeline  *mutate.Pipeline
	Reindexer *reorder.Reindexer
}

func (d *Deps) surfaceFor(w http.ResponseWriter, r *http.Request) *Surface {
	collection := domain.Collection(chi.URLParam(r, "collection"))
	switch collection {
	case domain.CollectionProcesos:
		return d.Procesos
	case domain.CollectionTareas:
		return d.Tareas
	}
	WriteError(w, http.StatusNotFound, "unknown_collection", "colección desconocida")
	return nil
}

func (d *Deps) handleList(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	recs := s.Store.List()
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (d *Deps) handleGet(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	rec, ok := s.Store.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "registro inexistente")
		return
	}
	WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (d *Deps) handleCreate(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	var req createRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	fields := make(domain.Fields, len(req.Fields))
	for k, v := range req.Fields {
		fields[k] = coerceValue(k, v)
	}
	id, err := s.Pipeline.Create(r.Context(), domain.Record{
		Fields:    fields,
		Relations: req.Relations,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (d *Deps) handleMutate(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	var req mutateRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Field == "" {
		WriteError(w, http.StatusBadRequest, "missing_field", "falta el nombre del campo")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Pipeline.Mutate(r.Context(), id, req.Field, coerceValue(req.Field, req.Value)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	rec, _ := s.Store.Get(id)
	WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (d *Deps) handleDelete(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	if err := s.Pipeline.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) handleReorder(w http.ResponseWriter, r *http.Request) {
	s := d.surfaceFor(w, r)
	if s == nil {
		return
	}
	var req reorderRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, http.StatusBadRequest, "empty_order", "la lista de ids está vacía")
		return
	}
	if err := s.Reindexer.Apply(r.Context(), req.IDs); err != nil {
		var partial *reorder.PartialError
		if errors.As(err, &partial) {
			WriteJSON(w, http.StatusConflict, map[string]any{
				"error":   "partial_reorder",
				"applied": partial.Applied,
				"id":      partial.ID,
			})
			return
		}
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Repo.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "db_unavailable", "base de datos no disponible")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeDomainError mapea errores de dominio a códigos HTTP.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *validation.FieldError
	switch {
	case errors.As(err, &fieldErr):
		WriteError(w, http.StatusUnprocessableEntity, "invalid_field", fieldErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "registro inexistente")
	case errors.Is(err, domain.ErrInvalid):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		logger.From(r.Context()).Warn("la escritura remota falló", logger.Err(err))
		WriteError(w, http.StatusBadGateway, "store_unavailable", "la escritura remota falló")
	}
}
