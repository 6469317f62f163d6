package http

import (
	"time"

	domain "github.com/dcastineira/procesos/internal/domain/core"
)

type mutateRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type createRequest struct {
	Fields    map[string]any      `json:"fields"`
	Relations map[string][]string `json:"relations,omitempty"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

type recordResponse struct {
	ID        string              `json:"id"`
	Fields    map[string]any      `json:"fields"`
	Relations map[string][]string `json:"relations,omitempty"`
	CreatedAt *time.Time          `json:"created_at,omitempty"`
}

func toRecordResponse(rec domain.Record) recordResponse {
	out := recordResponse{
		ID:        rec.ID,
		Fields:    rec.Fields,
		Relations: rec.Relations,
	}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt
		out.CreatedAt = &t
	}
	return out
}

// coerceValue normaliza valores JSON al tipo que espera el pipeline: las
// fechas viajan como string y se convierten a time.Time.
func coerceValue(field string, value any) any {
	if field != domain.FieldFecha && field != domain.FieldFechaCompletada {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return value
}
