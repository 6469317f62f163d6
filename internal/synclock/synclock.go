// Package synclock implementa el lock de debounce por SyncKey.
//
// Invariante: a lo sumo una llamada externa en vuelo por clave. TryAcquire
// devuelve false si la clave ya está tomada y el caller debe DESCARTAR la
// operación, no encolarla: se asume que el efecto del primer disparo ya
// captura el estado deseado cuando termina.
//
// La liberación ocurre por Release explícito (en defer) o por la ventana
// de seguridad (TTL), lo que pase primero. El TTL no es un deadline de la
// llamada custodiada: es la salvaguarda contra claves colgadas.
package synclock

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Manager es el contrato del lock de dedup, compartido proceso-wide por
// todos los listeners y pipelines.
type Manager interface {
	// TryAcquire toma la clave si está libre. False = ya tomada, el
	// caller saltea la operación.
	TryAcquire(ctx context.Context, key string) bool
	// Release libera la clave. Idempotente, incluso tras expirar el TTL.
	Release(ctx context.Context, key string)
}

// Key compone la clave de una operación lógica de sync: "<kind>-<id>".
func Key(kind, recordID string) string {
	return kind + "-" + recordID
}

// ---- backend memoria ----

// mem usa go-cache: Add es atómico "solo si no existe" con TTL, que es
// exactamente el contrato del debounce.
type mem struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemory crea el manager en memoria con la ventana de seguridad dada.
func NewMemory(ttl time.Duration) Manager {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &mem{
		c:   gocache.New(ttl, ttl),
		ttl: ttl,
	}
}

func (m *mem) TryAcquire(_ context.Context, key string) bool {
	return m.c.Add(key, struct{}{}, m.ttl) == nil
}

func (m *mem) Release(_ context.Context, key string) {
	m.c.Delete(key)
}

// ---- backend redis ----

// rds usa SET NX PX, para correr varias instancias contra el mismo par
// store/calendario.
type rds struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis crea el manager distribuido.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Manager {
	if prefix == "" {
		prefix = "synclock:"
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return &rds{client: client, prefix: prefix, ttl: ttl}
}

func (r *rds) TryAcquire(ctx context.Context, key string) bool {
	ok, err := r.client.SetNX(ctx, r.prefix+key, "1", r.ttl).Result()
	if err != nil {
		// ante error de red preferimos no duplicar la llamada externa
		return false
	}
	return ok
}

func (r *rds) Release(ctx context.Context, key string) {
	_ = r.client.Del(ctx, r.prefix+key).Err()
}
