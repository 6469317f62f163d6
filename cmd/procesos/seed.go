package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dcastineira/procesos/internal/config"
	"github.com/dcastineira/procesos/internal/observability/logger"
)

// newSeedCmd carga datos mínimos de desarrollo: usuarios, clientes y un
// par de procesos con tareas. Idempotente vía ON CONFLICT.
func newSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Carga datos de desarrollo en la base",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("pgxpool: %w", err)
			}
			defer pool.Close()

			return seed(ctx, pool)
		},
	}
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	usuarios := map[string]string{
		"u-ana":    "Ana Domínguez",
		"u-benito": "Benito Farías",
		"u-carla":  "Carla Ruiz",
	}
	for id, nombre := range usuarios {
		if _, err := pool.Exec(ctx, `
			INSERT INTO usuarios (id, nombre) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET nombre = EXCLUDED.nombre
		`, id, nombre); err != nil {
			return fmt.Errorf("seed usuario %s: %w", id, err)
		}
	}

	clientes := map[string]string{
		"c-garcia": "García S.A.",
		"c-lopez":  "Estudio López",
	}
	for id, nombre := range clientes {
		if _, err := pool.Exec(ctx, `
			INSERT INTO clientes (id, nombre) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET nombre = EXCLUDED.nombre
		`, id, nombre); err != nil {
			return fmt.Errorf("seed cliente %s: %w", id, err)
		}
	}

	procesoID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO procesos (id, titulo, descripcion, estado_id, cliente_id, orden, created_at)
		VALUES ($1, 'Sucesión García', 'Expediente 4431/2026', 'en_curso', 'c-garcia',
			COALESCE((SELECT MAX(orden) + 1 FROM procesos), 1), NOW())
	`, procesoID); err != nil {
		return fmt.Errorf("seed proceso: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO proceso_responsables (proceso_id, usuario_id) VALUES ($1, 'u-ana')
		ON CONFLICT DO NOTHING
	`, procesoID); err != nil {
		return fmt.Errorf("seed responsable: %w", err)
	}

	tareas := []struct {
		titulo string
		fecha  string
	}{
		{"VENCIMIENTO: contestar demanda", "2026-09-15"},
		{"AUDIENCIA preliminar", "2026-10-01"},
		{"Redactar cédulas", ""},
	}
	for _, tr := range tareas {
		id := uuid.NewString()
		var fecha any
		if tr.fecha != "" {
			t, err := time.Parse("2006-01-02", tr.fecha)
			if err != nil {
				return fmt.Errorf("seed tarea %q: %w", tr.titulo, err)
			}
			fecha = t
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO tareas (id, proceso_id, titulo, estado_id, fecha, orden, created_at)
			VALUES ($1, $2, $3, 'pendiente', $4,
				COALESCE((SELECT MAX(orden) + 1 FROM tareas), 1), NOW())
		`, id, procesoID, tr.titulo, fecha); err != nil {
			return fmt.Errorf("seed tarea %q: %w", tr.titulo, err)
		}
	}
	logger.S().Infow("seed completado",
		"usuarios", len(usuarios),
		"clientes", len(clientes),
		"tareas", len(tareas))
	return nil
}
