package core

// ChangeOp es la operación que describe una notificación del store remoto.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent es la notificación push de un cambio remoto.
//
// El orden de llegada no está garantizado respecto del orden de emisión
// local: un evento puede llegar antes, después o concurrentemente con la
// escritura optimista que lo causó.
type ChangeEvent struct {
	Collection Collection `json:"collection"`
	Op         ChangeOp   `json:"op"`
	RecordID   string     `json:"record_id"`
	// NewFields es parcial y solo viene en insert/update. Las listas de
	// relación nunca viajan en la notificación: el consumidor debe
	// re-leer el registro con joins.
	NewFields Fields `json:"new_fields,omitempty"`
	// OldID identifica la fila borrada (solo delete).
	OldID string `json:"old_id,omitempty"`
}

// Filter restringe una suscripción a filas con una igualdad de columna,
// ej: tareas cuyo proceso_id es X.
type Filter struct {
	Column string
	Value  string
}
