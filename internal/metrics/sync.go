package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del motor de reconciliación y sync externo. Viven en un paquete
// propio para evitar ciclos de import entre mutate/stream/calendar y HTTP.

var (
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procesos_mutations_total",
		Help: "Mutaciones locales por colección y resultado (ok|error)",
	}, []string{"collection", "result"})

	RollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procesos_rollbacks_total",
		Help: "Rollbacks de escrituras optimistas tras falla remota",
	})

	StreamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procesos_stream_events_total",
		Help: "Notificaciones de cambio recibidas por colección y operación",
	}, []string{"collection", "op"})

	StreamRefetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procesos_stream_refetch_failures_total",
		Help: "Re-lecturas fallidas tras una notificación (evento descartado)",
	})

	CalendarSyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procesos_calendar_syncs_total",
		Help: "Llamadas al servicio de calendario por tipo y resultado",
	}, []string{"kind", "result"})

	SyncTriggersDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procesos_sync_triggers_dropped_total",
		Help: "Disparos de sync descartados por lock ya tomado (debounce)",
	})

	ReorderWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procesos_reorder_writes_total",
		Help: "Escrituras de ordinal emitidas por reordenamientos",
	})
)

// Register registra las métricas del motor en el registry dado (o el default si nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		MutationsTotal,
		RollbacksTotal,
		StreamEventsTotal,
		StreamRefetchFailures,
		CalendarSyncsTotal,
		SyncTriggersDropped,
		ReorderWritesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
