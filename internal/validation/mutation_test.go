package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/dcastineira/procesos/internal/domain/core"
)

func TestMutation_Valid(t *testing.T) {
	cases := []struct {
		field string
		value any
	}{
		{core.FieldTitulo, "AUDIENCIA: testimonial"},
		{core.FieldDescripcion, ""},
		{core.FieldDescripcion, nil},
		{core.FieldEstadoID, "pendiente"},
		{core.FieldFecha, time.Now()},
		{core.FieldFecha, nil},
		{core.FieldHoraInicio, "09:30"},
		{core.FieldHoraFin, ""},
		{core.FieldClienteID, "c1"},
	}
	for _, c := range cases {
		if err := Mutation(c.field, c.value); err != nil {
			t.Fatalf("%s=%v: unexpected error %v", c.field, c.value, err)
		}
	}
}

func TestMutation_Invalid(t *testing.T) {
	cases := []struct {
		field string
		value any
	}{
		{core.FieldTitulo, ""},
		{core.FieldTitulo, "   "},
		{core.FieldTitulo, nil},
		{core.FieldEstadoID, ""},
		{core.FieldHoraInicio, "25:00"},
		{core.FieldHoraFin, "9am"},
		{core.FieldFecha, 42},
		{"orden", "1"},       // no mutable por pipeline, va por reorder
		{"desconocido", "x"}, // campo inexistente
	}
	for _, c := range cases {
		err := Mutation(c.field, c.value)
		if err == nil {
			t.Fatalf("%s=%v: expected error", c.field, c.value)
		}
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("%s=%v: expected *FieldError, got %T", c.field, c.value, err)
		}
	}
}
