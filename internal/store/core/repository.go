// Package core define los contratos del store remoto: CRUD por colección,
// actualización atómica de campos y la suscripción push de cambios.
package core

import (
	"context"

	domain "github.com/dcastineira/procesos/internal/domain/core"
)

// RecordRepository es el acceso de filas al store remoto.
type RecordRepository interface {
	Ping(ctx context.Context) error

	// GetJoined re-lee un registro completo, con relaciones joineadas
	// (responsables, designados) y campos derivados de joins (cliente).
	GetJoined(ctx context.Context, collection domain.Collection, id string) (*domain.Record, error)

	// List devuelve la colección ordenada por ordinal.
	List(ctx context.Context, collection domain.Collection) ([]domain.Record, error)

	// Insert crea una fila nueva con sus campos.
	Insert(ctx context.Context, rec *domain.Record) error

	// UpdateFields aplica un batch campo+derivados como una única
	// escritura atómica de fila.
	UpdateFields(ctx context.Context, collection domain.Collection, id string, fields domain.Fields) error

	// UpdateOrdinal persiste el ordinal de una fila (reordenamiento).
	UpdateOrdinal(ctx context.Context, collection domain.Collection, id string, ordinal int) error

	// Delete borra la fila.
	Delete(ctx context.Context, collection domain.Collection, id string) error

	// LookupNombres resuelve ids de usuario a nombre visible. Ids
	// desconocidos se omiten del mapa resultado.
	LookupNombres(ctx context.Context, usuarioIDs []string) (map[string]string, error)
}

// Subscription es un canal vivo de notificaciones de cambio.
type Subscription interface {
	// Events entrega ChangeEvents en orden de entrega del canal push,
	// que no es necesariamente el orden de emisión de las mutaciones.
	Events() <-chan domain.ChangeEvent
	// Close corta la suscripción; eventos posteriores se descartan.
	Close() error
}

// Notifier abre suscripciones por (colección, filtro opcional).
type Notifier interface {
	Subscribe(ctx context.Context, collection domain.Collection, filter *domain.Filter) (Subscription, error)
}
