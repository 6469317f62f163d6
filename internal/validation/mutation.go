package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/dcastineira/procesos/internal/domain/core"
)

// FieldError es una falla de validación local: se reporta sincrónicamente
// al caller antes de tocar el store remoto.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("campo %q inválido: %s", e.Field, e.Reason)
}

// requeridos: campos que no admiten valor vacío.
var requiredFields = map[string]bool{
	core.FieldTitulo:   true,
	core.FieldEstadoID: true,
}

// mutables: campos que el pipeline acepta mutar. Cualquier otro nombre se
// rechaza antes de la escritura remota.
var mutableFields = map[string]bool{
	core.FieldTitulo:      true,
	core.FieldDescripcion: true,
	core.FieldEstadoID:    true,
	core.FieldFecha:       true,
	core.FieldHoraInicio:  true,
	core.FieldHoraFin:     true,
	core.FieldClienteID:   true,
}

// Mutation valida una mutación de campo antes de aplicarla.
func Mutation(field string, value any) error {
	if !mutableFields[field] {
		return &FieldError{Field: field, Reason: "no es un campo mutable"}
	}
	switch v := value.(type) {
	case nil:
		if requiredFields[field] {
			return &FieldError{Field: field, Reason: "es requerido"}
		}
	case string:
		if requiredFields[field] && strings.TrimSpace(v) == "" {
			return &FieldError{Field: field, Reason: "es requerido"}
		}
		if field == core.FieldHoraInicio || field == core.FieldHoraFin {
			if v != "" && !validClock(v) {
				return &FieldError{Field: field, Reason: "hora inválida, se espera HH:MM"}
			}
		}
	case time.Time:
		// fechas siempre aceptadas
	default:
		return &FieldError{Field: field, Reason: fmt.Sprintf("tipo no soportado %T", value)}
	}
	return nil
}

// validClock acepta "HH:MM" en 24hs.
func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
