package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - REGISTROS
// =================================================================================

// RecordID crea un campo para el id de un registro (proceso o tarea).
func RecordID(v string) zap.Field {
	return zap.String("record_id", v)
}

// Collection crea un campo para la colección del registro.
func Collection(v string) zap.Field {
	return zap.String("collection", v)
}

// Field crea un campo para el nombre del campo mutado.
func Field(v string) zap.Field {
	return zap.String("field", v)
}

// Operation crea un campo para la operación (insert/update/delete/mutate).
func Operation(v string) zap.Field {
	return zap.String("operation", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SYNC EXTERNO
// =================================================================================

// SyncKey crea un campo para la clave de dedup de una operación de sync.
func SyncKey(v string) zap.Field {
	return zap.String("sync_key", v)
}

// SyncKind crea un campo para el tipo de disparo de sync (fecha/estado/...).
func SyncKind(v string) zap.Field {
	return zap.String("sync_kind", v)
}

// CorrelationID crea un campo para el id de correlación contra el servicio
// de calendario (= id del registro dueño).
func CorrelationID(v string) zap.Field {
	return zap.String("correlation_id", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el id del request HTTP.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code de la respuesta.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - GENERALES
// =================================================================================

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Component crea un campo para identificar el componente emisor.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Count crea un campo numérico genérico de cantidad.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}
