// Package pg implementa el store remoto sobre PostgreSQL.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/store/core"
)

// recordRepo implementa core.RecordRepository.
type recordRepo struct {
	pool *pgxpool.Pool
}

// NewRecordRepo crea el repositorio de registros.
func NewRecordRepo(pool *pgxpool.Pool) core.RecordRepository {
	return &recordRepo{pool: pool}
}

func (r *recordRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// columnas mutables por colección. Cualquier campo fuera de la lista se
// rechaza antes de armar SQL.
var mutableColumns = map[domain.Collection]map[string]bool{
	domain.CollectionProcesos: {
		domain.FieldTitulo:      true,
		domain.FieldDescripcion: true,
		domain.FieldEstadoID:    true,
		domain.FieldClienteID:   true,
		domain.FieldFecha:       true,
	},
	domain.CollectionTareas: {
		domain.FieldTitulo:          true,
		domain.FieldDescripcion:     true,
		domain.FieldEstadoID:        true,
		domain.FieldFecha:           true,
		domain.FieldHoraInicio:      true,
		domain.FieldHoraFin:         true,
		domain.FieldFechaCompletada: true,
	},
}

// MutableColumn informa si col admite UPDATE en collection.
func MutableColumn(collection domain.Collection, col string) bool {
	return mutableColumns[collection][col]
}

func tableFor(collection domain.Collection) (string, error) {
	switch collection {
	case domain.CollectionProcesos:
		return "procesos", nil
	case domain.CollectionTareas:
		return "tareas", nil
	}
	return "", fmt.Errorf("colección desconocida %q: %w", collection, domain.ErrInvalid)
}

func (r *recordRepo) GetJoined(ctx context.Context, collection domain.Collection, id string) (*domain.Record, error) {
	switch collection {
	case domain.CollectionProcesos:
		return r.getProceso(ctx, id)
	case domain.CollectionTareas:
		return r.getTarea(ctx, id)
	}
	return nil, fmt.Errorf("colección desconocida %q: %w", collection, domain.ErrInvalid)
}

func (r *recordRepo) getProceso(ctx context.Context, id string) (*domain.Record, error) {
	query := `
		SELECT p.id, p.titulo, p.descripcion, p.estado_id, p.cliente_id, c.nombre,
			p.fecha, p.created_at,
			COALESCE(array_agg(pr.usuario_id) FILTER (WHERE pr.usuario_id IS NOT NULL), '{}')
		FROM procesos p
		LEFT JOIN clientes c ON c.id = p.cliente_id
		LEFT JOIN proceso_responsables pr ON pr.proceso_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, c.nombre
	`

	var (
		titulo, descripcion, estadoID, clienteID, clienteNombre *string
		fecha                                                   *time.Time
		createdAt                                               time.Time
		responsables                                            []string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&id, &titulo, &descripcion, &estadoID, &clienteID, &clienteNombre,
		&fecha, &createdAt, &responsables,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proceso: %w", err)
	}

	rec := &domain.Record{
		ID:         id,
		Collection: domain.CollectionProcesos,
		Fields:     domain.Fields{},
		Relations:  map[string][]string{domain.RelResponsables: responsables},
		CreatedAt:  createdAt,
	}
	setStr(rec.Fields, domain.FieldTitulo, titulo)
	setStr(rec.Fields, domain.FieldDescripcion, descripcion)
	setStr(rec.Fields, domain.FieldEstadoID, estadoID)
	setStr(rec.Fields, domain.FieldClienteID, clienteID)
	setStr(rec.Fields, "cliente_nombre", clienteNombre)
	setTime(rec.Fields, domain.FieldFecha, fecha)
	return rec, nil
}

func (r *recordRepo) getTarea(ctx context.Context, id string) (*domain.Record, error) {
	query := `
		SELECT t.id, t.proceso_id, t.titulo, t.descripcion, t.estado_id,
			t.fecha, t.hora_inicio, t.hora_fin, t.fecha_completada, t.created_at,
			c.nombre,
			COALESCE(array_agg(DISTINCT tr.usuario_id) FILTER (WHERE tr.usuario_id IS NOT NULL), '{}'),
			COALESCE(array_agg(DISTINCT td.usuario_id) FILTER (WHERE td.usuario_id IS NOT NULL), '{}')
		FROM tareas t
		LEFT JOIN procesos p ON p.id = t.proceso_id
		LEFT JOIN clientes c ON c.id = p.cliente_id
		LEFT JOIN tarea_responsables tr ON tr.tarea_id = t.id
		LEFT JOIN tarea_designados td ON td.tarea_id = t.id
		WHERE t.id = $1
		GROUP BY t.id, c.nombre
	`

	var (
		procesoID, titulo, descripcion, estadoID, horaInicio, horaFin, clienteNombre *string
		fecha, fechaCompletada                                                       *time.Time
		createdAt                                                                    time.Time
		responsables, designados                                                     []string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&id, &procesoID, &titulo, &descripcion, &estadoID,
		&fecha, &horaInicio, &horaFin, &fechaCompletada, &createdAt,
		&clienteNombre, &responsables, &designados,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tarea: %w", err)
	}

	rec := &domain.Record{
		ID:         id,
		Collection: domain.CollectionTareas,
		Fields:     domain.Fields{},
		Relations: map[string][]string{
			domain.RelResponsables: responsables,
			domain.RelDesignados:   designados,
		},
		CreatedAt: createdAt,
	}
	setStr(rec.Fields, "proceso_id", procesoID)
	setStr(rec.Fields, domain.FieldTitulo, titulo)
	setStr(rec.Fields, domain.FieldDescripcion, descripcion)
	setStr(rec.Fields, domain.FieldEstadoID, estadoID)
	setStr(rec.Fields, domain.FieldHoraInicio, horaInicio)
	setStr(rec.Fields, domain.FieldHoraFin, horaFin)
	setStr(rec.Fields, "cliente_nombre", clienteNombre)
	setTime(rec.Fields, domain.FieldFecha, fecha)
	setTime(rec.Fields, domain.FieldFechaCompletada, fechaCompletada)
	return rec, nil
}

func (r *recordRepo) List(ctx context.Context, collection domain.Collection) ([]domain.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY orden, created_at`, table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	ids := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetJoined(ctx, collection, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // borrado entre el listado y el join
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Insert da de alta la fila más sus filas de relación en una transacción:
// o entra el registro completo o no entra nada.
func (r *recordRepo) Insert(ctx context.Context, rec *domain.Record) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.Collection, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	switch rec.Collection {
	case domain.CollectionProcesos:
		query := `
			INSERT INTO procesos (id, titulo, descripcion, estado_id, cliente_id, fecha, orden, created_at)
			VALUES ($1, $2, $3, $4, $5, $6,
				COALESCE((SELECT MAX(orden) + 1 FROM procesos), 1), NOW())
		`
		_, err := tx.Exec(ctx, query,
			rec.ID,
			rec.Field(domain.FieldTitulo),
			nullIfEmpty(rec.Field(domain.FieldDescripcion)),
			rec.Field(domain.FieldEstadoID),
			nullIfEmpty(rec.Field(domain.FieldClienteID)),
			timeOrNil(rec, domain.FieldFecha),
		)
		if err != nil {
			return fmt.Errorf("insert proceso: %w", err)
		}
		if err := insertRelation(ctx, tx, "proceso_responsables", "proceso_id", rec.ID, rec.Relation(domain.RelResponsables)); err != nil {
			return err
		}
	case domain.CollectionTareas:
		query := `
			INSERT INTO tareas (id, proceso_id, titulo, descripcion, estado_id, fecha, hora_inicio, hora_fin, orden, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
				COALESCE((SELECT MAX(orden) + 1 FROM tareas), 1), NOW())
		`
		_, err := tx.Exec(ctx, query,
			rec.ID,
			nullIfEmpty(rec.Field("proceso_id")),
			rec.Field(domain.FieldTitulo),
			nullIfEmpty(rec.Field(domain.FieldDescripcion)),
			rec.Field(domain.FieldEstadoID),
			timeOrNil(rec, domain.FieldFecha),
			nullIfEmpty(rec.Field(domain.FieldHoraInicio)),
			nullIfEmpty(rec.Field(domain.FieldHoraFin)),
		)
		if err != nil {
			return fmt.Errorf("insert tarea: %w", err)
		}
		if err := insertRelation(ctx, tx, "tarea_responsables", "tarea_id", rec.ID, rec.Relation(domain.RelResponsables)); err != nil {
			return err
		}
		if err := insertRelation(ctx, tx, "tarea_designados", "tarea_id", rec.ID, rec.Relation(domain.RelDesignados)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("colección desconocida %q: %w", rec.Collection, domain.ErrInvalid)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Collection, err)
	}
	return nil
}

func insertRelation(ctx context.Context, tx pgx.Tx, table, fkCol, id string, usuarios []string) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, usuario_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table, fkCol)
	for _, uid := range usuarios {
		if _, err := tx.Exec(ctx, query, id, uid); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// UpdateFields arma un único UPDATE con el campo mutado más sus derivados.
// La atomicidad de fila la da el UPDATE; no hay transacción multi-fila.
func (r *recordRepo) UpdateFields(ctx context.Context, collection domain.Collection, id string, fields domain.Fields) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	allowed := mutableColumns[collection]

	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	args = append(args, id)
	for col, val := range fields {
		if !allowed[col] {
			return fmt.Errorf("campo %q no mutable en %s: %w", col, table, domain.ErrInvalid)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, table, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *recordRepo) UpdateOrdinal(ctx context.Context, collection domain.Collection, id string, ordinal int) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET orden = $2 WHERE id = $1`, table)
	tag, err := r.pool.Exec(ctx, query, id, ordinal)
	if err != nil {
		return fmt.Errorf("update ordinal %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *recordRepo) Delete(ctx context.Context, collection domain.Collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *recordRepo) LookupNombres(ctx context.Context, usuarioIDs []string) (map[string]string, error) {
	if len(usuarioIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, nombre FROM usuarios WHERE id = ANY($1)`, usuarioIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup nombres: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(usuarioIDs))
	for rows.Next() {
		var id, nombre string
		if err := rows.Scan(&id, &nombre); err != nil {
			return nil, fmt.Errorf("lookup nombres: %w", err)
		}
		out[id] = nombre
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup nombres: %w", err)
	}
	return out, nil
}

// ---- helpers ----

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func setStr(f domain.Fields, key string, v *string) {
	if v != nil {
		f[key] = *v
	}
}

func setTime(f domain.Fields, key string, v *time.Time) {
	if v != nil {
		f[key] = *v
	}
}

func timeOrNil(rec *domain.Record, key string) any {
	if t, ok := rec.FieldTime(key); ok {
		return t
	}
	return nil
}
