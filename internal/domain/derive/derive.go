// Package derive calcula los campos derivados de una mutación.
//
// Las reglas son una función pura del nuevo valor, no del nombre del campo
// que disparó la mutación: están en una tabla para poder testearlas
// aisladas del pipeline.
package derive

import (
	"time"

	"github.com/dcastineira/procesos/internal/domain/core"
)

// rule produce los campos adicionales que acompañan a un valor nuevo.
type rule func(value any, now time.Time) core.Fields

// Las reglas van acotadas por colección: fecha_completada existe sólo en
// tareas, un proceso no tiene columna donde escribirla.
var rules = map[core.Collection]map[string]rule{
	core.CollectionTareas: {
		core.FieldEstadoID: estadoRule,
	},
}

// Fields devuelve los campos derivados de asignar value al campo field en
// la colección dada. Devuelve nil cuando el campo no deriva nada.
func Fields(collection core.Collection, field string, value any, now time.Time) core.Fields {
	r, ok := rules[collection][field]
	if !ok {
		return nil
	}
	return r(value, now)
}

// estadoRule: pasar a "completada" sella fecha_completada; salir de
// "completada" la limpia.
func estadoRule(value any, now time.Time) core.Fields {
	estado, _ := value.(string)
	if estado == core.EstadoCompletada {
		return core.Fields{core.FieldFechaCompletada: now.UTC()}
	}
	return core.Fields{core.FieldFechaCompletada: nil}
}
