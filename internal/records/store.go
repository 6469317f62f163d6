// Package records implementa el Record Store: la colección en memoria que
// comparten todas las superficies que muestran una misma colección.
//
// Dos escritores independientes convergen acá: la mutación optimista local
// y el eco remoto del change stream. No hay vector de versiones: gana el
// último upsert aplicado en orden de llamada (last-writer-wins por campo).
package records

import (
	"sync"

	"github.com/dcastineira/procesos/internal/domain/core"
)

// Store es una colección en memoria de registros, con orden de inserción
// estable para listados.
type Store struct {
	collection core.Collection

	mu    sync.RWMutex
	recs  map[string]*core.Record
	order []string
}

// NewStore crea un store vacío para una colección.
func NewStore(collection core.Collection) *Store {
	return &Store{
		collection: collection,
		recs:       map[string]*core.Record{},
	}
}

// Collection devuelve la colección que sirve este store.
func (s *Store) Collection() core.Collection { return s.collection }

// Get devuelve una copia del registro.
func (s *Store) Get(id string) (core.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return core.Record{}, false
	}
	return r.Clone(), true
}

// Upsert mergea campos parciales sobre el registro, creándolo si no existe.
// Un valor nil limpia el campo. Las listas de relación no se tocan: para
// eso está Merge (re-lectura completa) o SetRelations.
func (s *Store) Upsert(id string, fields core.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureLocked(id)
	applyFields(r, fields)
}

// Merge aplica un registro completo re-leído del store remoto: campos
// parciales más las listas de relación que el registro trae.
func (s *Store) Merge(rec core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureLocked(rec.ID)
	applyFields(r, rec.Fields)
	for name, ids := range rec.Relations {
		if r.Relations == nil {
			r.Relations = map[string][]string{}
		}
		r.Relations[name] = append([]string(nil), ids...)
	}
	if !rec.CreatedAt.IsZero() {
		r.CreatedAt = rec.CreatedAt
	}
}

// SetRelations reemplaza una lista de relación puntual.
func (s *Store) SetRelations(id, name string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureLocked(id)
	if r.Relations == nil {
		r.Relations = map[string][]string{}
	}
	r.Relations[name] = append([]string(nil), ids...)
}

// Remove saca el registro del store. Idempotente.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Take saca el registro y devuelve su copia junto con la posición que
// ocupaba en el orden de listado, para poder restaurarlo en su lugar.
func (s *Store) Take(id string) (core.Record, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return core.Record{}, 0, false
	}
	rec := r.Clone()
	pos := s.removeLocked(id)
	return rec, pos, true
}

// Restore reinserta un registro en una posición del orden de listado.
// Revierte una baja optimista sin mover el registro de lugar. No pisa un
// registro que reapareció por otra vía.
func (s *Store) Restore(rec core.Record, pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return
	}
	clone := rec.Clone()
	s.recs[rec.ID] = &clone
	if pos < 0 {
		pos = 0
	}
	if pos > len(s.order) {
		pos = len(s.order)
	}
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = rec.ID
}

func (s *Store) removeLocked(id string) int {
	if _, ok := s.recs[id]; !ok {
		return -1
	}
	delete(s.recs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return i
		}
	}
	return -1
}

// List devuelve un snapshot en orden de inserción.
func (s *Store) List() []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Record, 0, len(s.order))
	for _, id := range s.order {
		if r, ok := s.recs[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Len devuelve la cantidad de registros.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

func (s *Store) ensureLocked(id string) *core.Record {
	if r, ok := s.recs[id]; ok {
		return r
	}
	r := &core.Record{
		ID:         id,
		Collection: s.collection,
		Fields:     core.Fields{},
	}
	s.recs[id] = r
	s.order = append(s.order, id)
	return r
}

func applyFields(r *core.Record, fields core.Fields) {
	if r.Fields == nil {
		r.Fields = core.Fields{}
	}
	for k, v := range fields {
		if v == nil {
			delete(r.Fields, k)
			continue
		}
		r.Fields[k] = v
	}
}
