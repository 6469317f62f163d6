package core

import "time"

// Collection identifica una colección del store remoto.
type Collection string

const (
	CollectionProcesos Collection = "procesos"
	CollectionTareas   Collection = "tareas"
)

// Valid indica si la colección es una de las conocidas.
func (c Collection) Valid() bool {
	return c == CollectionProcesos || c == CollectionTareas
}

// Fields es el mapa de campos nombrados de un registro.
// Los valores son strings, fechas, ids de catálogo o referencias (FK).
// Un valor nil significa "limpiar el campo".
type Fields map[string]any

// Clone devuelve una copia superficial del mapa.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record es una entidad mutable: proceso o tarea. Ambos comparten la
// mecánica de mutación/reconciliación; difieren en esquema de campos y en
// la regla de elegibilidad de sync.
type Record struct {
	ID         string
	Collection Collection
	Fields     Fields
	// Relations agrupa listas de relación por nombre (ej: "responsables",
	// "designados"). No se pisan en un upsert parcial salvo que el upsert
	// las incluya explícitamente.
	Relations map[string][]string
	CreatedAt time.Time
}

// Field devuelve el valor de un campo como string ("" si no existe o no es string).
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	if v, ok := r.Fields[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FieldTime devuelve el valor de un campo como time.Time.
func (r *Record) FieldTime(name string) (time.Time, bool) {
	if r == nil || r.Fields == nil {
		return time.Time{}, false
	}
	switch v := r.Fields[name].(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	}
	return time.Time{}, false
}

// Relation devuelve la lista de relación con ese nombre (nil si no hay).
func (r *Record) Relation(name string) []string {
	if r == nil || r.Relations == nil {
		return nil
	}
	return r.Relations[name]
}

// Clone devuelve una copia profunda del registro.
func (r Record) Clone() Record {
	out := r
	out.Fields = r.Fields.Clone()
	if r.Relations != nil {
		out.Relations = make(map[string][]string, len(r.Relations))
		for k, v := range r.Relations {
			out.Relations[k] = append([]string(nil), v...)
		}
	}
	return out
}
