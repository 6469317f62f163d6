package core

// Nombres de campo compartidos entre el store remoto y el Record Store local.
const (
	FieldTitulo          = "titulo"
	FieldDescripcion     = "descripcion"
	FieldEstadoID        = "estado_id"
	FieldFecha           = "fecha"
	FieldHoraInicio      = "hora_inicio"
	FieldHoraFin         = "hora_fin"
	FieldFechaCompletada = "fecha_completada"
	FieldClienteID       = "cliente_id"
	FieldOrden           = "orden"
)

// Nombres de listas de relación.
const (
	RelResponsables = "responsables"
	RelDesignados   = "designados"
)

// EstadoCompletada es el id de catálogo del estado "completada".
const EstadoCompletada = "completada"
