package calendar

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/metrics"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/synclock"
)

// Tipos de disparo: componen la SyncKey junto con el id del registro.
const (
	KindAlta        = "alta"
	KindTitulo      = "titulo"
	KindEstado      = "estado"
	KindFecha       = "fecha"
	KindDescripcion = "descripcion"
)

// completionMarker antecede el título del evento cuando la tarea se completa.
const completionMarker = "✔ "

// eligiblePrefixes: categorías de título que habilitan sync con calendario.
// La comparación es case-insensitive sobre el título normalizado.
var eligiblePrefixes = []string{
	"VENCIMIENTO",
	"SEGUIMIENTO",
	"AUDIENCIA",
	"REUNION",
	"REUNIÓN",
}

// Eligible indica si un registro con ese título se sincroniza.
func Eligible(titulo string) bool {
	t := strings.ToUpper(strings.TrimSpace(titulo))
	for _, p := range eligiblePrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// RecordReader es lo que el orquestador necesita del store remoto: la
// re-lectura joineada para syncs de descripción y el lookup de nombres.
type RecordReader interface {
	GetJoined(ctx context.Context, collection domain.Collection, id string) (*domain.Record, error)
	LookupNombres(ctx context.Context, usuarioIDs []string) (map[string]string, error)
}

// Orchestrator decide y ejecuta las llamadas al calendario externo.
//
// Toda llamada va custodiada por el lock de SyncKey. Las fallas se loguean
// y se tragan: el éxito de la mutación local nunca depende del sync.
type Orchestrator struct {
	client  Client
	locks   synclock.Manager
	reader  RecordReader
	lookups *gocache.Cache
	log     *zap.Logger
}

// NewOrchestrator arma el orquestador. lookupTTL acota el cache de nombres
// joineados (cliente, responsables) usado en los syncs de descripción.
func NewOrchestrator(client Client, locks synclock.Manager, reader RecordReader, lookupTTL time.Duration) *Orchestrator {
	if lookupTTL <= 0 {
		lookupTTL = 2 * time.Minute
	}
	return &Orchestrator{
		client:  client,
		locks:   locks,
		reader:  reader,
		lookups: gocache.New(lookupTTL, time.Minute),
		log:     logger.Named("calendar.orchestrator"),
	}
}

// Creado: registro nuevo. Crea el evento si es elegible y tiene fecha;
// si no, éxito silencioso.
func (o *Orchestrator) Creado(ctx context.Context, rec domain.Record) {
	if !Eligible(rec.Field(domain.FieldTitulo)) {
		return
	}
	start, end, allDay, ok := span(rec)
	if !ok {
		return
	}
	o.guarded(ctx, KindAlta, rec.ID, func(ctx context.Context) error {
		ev := o.buildEvent(ctx, rec, start, end, allDay)
		_, err := o.client.Create(ctx, ev)
		return err
	})
}

// TituloCambiado: renombre. Si el registro no era elegible antes pero sí
// ahora, no puede existir artefacto previo: se trata como alta nueva.
// Si ya era elegible, es un update de título. Solo actúa si hay fecha.
func (o *Orchestrator) TituloCambiado(ctx context.Context, rec domain.Record, prevTitulo string) {
	titulo := rec.Field(domain.FieldTitulo)
	if !Eligible(titulo) {
		return
	}
	start, end, allDay, ok := span(rec)
	if !ok {
		return
	}
	if !Eligible(prevTitulo) {
		o.guarded(ctx, KindTitulo, rec.ID, func(ctx context.Context) error {
			ev := o.buildEvent(ctx, rec, start, end, allDay)
			_, err := o.client.Create(ctx, ev)
			return err
		})
		return
	}
	o.guarded(ctx, KindTitulo, rec.ID, func(ctx context.Context) error {
		return o.client.Update(ctx, rec.ID, Patch{Title: &titulo})
	})
}

// EstadoCambiado: pasar a completada marca el evento como completado con
// el marcador en el título. Sin fallback de creación: una tarea completada
// sin fecha no tiene nada que sincronizar.
func (o *Orchestrator) EstadoCambiado(ctx context.Context, rec domain.Record) {
	if rec.Field(domain.FieldEstadoID) != domain.EstadoCompletada {
		return
	}
	titulo := rec.Field(domain.FieldTitulo)
	if !Eligible(titulo) {
		return
	}
	o.guarded(ctx, KindEstado, rec.ID, func(ctx context.Context) error {
		marked := completionMarker + titulo
		completed := true
		return o.client.Update(ctx, rec.ID, Patch{Title: &marked, Completed: &completed})
	})
}

// FechaCambiada: recalcula el rango y actualiza; si el update reporta
// not-found crea el evento (auto-reparación: el artefacto pudo no existir
// nunca, ej. elegibilidad adquirida después de fijada la fecha).
func (o *Orchestrator) FechaCambiada(ctx context.Context, rec domain.Record) {
	if !Eligible(rec.Field(domain.FieldTitulo)) {
		return
	}
	start, end, allDay, ok := span(rec)
	if !ok {
		return
	}
	o.guarded(ctx, KindFecha, rec.ID, func(ctx context.Context) error {
		err := o.client.Update(ctx, rec.ID, Patch{Start: &start, End: &end, AllDay: &allDay})
		if errors.Is(err, ErrArtifactNotFound) {
			ev := o.buildEvent(ctx, rec, start, end, allDay)
			_, err = o.client.Create(ctx, ev)
		}
		return err
	})
}

// DescripcionCambiada: re-lee el registro con joins (responsables, cliente)
// y actualiza descripción y resúmenes de asignados.
func (o *Orchestrator) DescripcionCambiada(ctx context.Context, rec domain.Record) {
	if !Eligible(rec.Field(domain.FieldTitulo)) {
		return
	}
	o.guarded(ctx, KindDescripcion, rec.ID, func(ctx context.Context) error {
		joined, err := o.reader.GetJoined(ctx, rec.Collection, rec.ID)
		if err != nil {
			return err
		}
		descripcion := joined.Field(domain.FieldDescripcion)
		responsables := o.resumen(ctx, joined.Relation(domain.RelResponsables))
		designados := o.resumen(ctx, joined.Relation(domain.RelDesignados))
		cliente := joined.Field("cliente_nombre")
		return o.client.Update(ctx, rec.ID, Patch{
			Description:  &descripcion,
			Responsables: &responsables,
			Designados:   &designados,
			Cliente:      &cliente,
		})
	})
}

// guarded ejecuta fn bajo el lock de la SyncKey. Si la clave ya está
// tomada el disparo se descarta (debounce deliberado, no cola justa).
func (o *Orchestrator) guarded(ctx context.Context, kind, recordID string, fn func(context.Context) error) {
	key := synclock.Key(kind, recordID)
	if !o.locks.TryAcquire(ctx, key) {
		metrics.SyncTriggersDropped.Inc()
		o.log.Debug("disparo descartado, clave tomada", logger.SyncKey(key))
		return
	}
	defer o.locks.Release(ctx, key)

	if err := fn(ctx); err != nil {
		metrics.CalendarSyncsTotal.WithLabelValues(kind, "error").Inc()
		o.log.Warn("sync de calendario falló",
			logger.SyncKind(kind),
			logger.CorrelationID(recordID),
			logger.Err(err))
		return
	}
	metrics.CalendarSyncsTotal.WithLabelValues(kind, "ok").Inc()
}

// buildEvent arma el payload completo de creación, con resúmenes de
// nombres si el lookup funciona (si falla, el evento sale sin resúmenes).
func (o *Orchestrator) buildEvent(ctx context.Context, rec domain.Record, start, end time.Time, allDay bool) Event {
	return Event{
		Title:         rec.Field(domain.FieldTitulo),
		Description:   rec.Field(domain.FieldDescripcion),
		Start:         start,
		End:           end,
		AllDay:        allDay,
		CorrelationID: rec.ID,
		Responsables:  o.resumen(ctx, rec.Relation(domain.RelResponsables)),
		Designados:    o.resumen(ctx, rec.Relation(domain.RelDesignados)),
		Cliente:       rec.Field("cliente_nombre"),
	}
}

// resumen aplana ids de usuario a una lista de nombres separada por comas,
// cacheando los lookups.
func (o *Orchestrator) resumen(ctx context.Context, usuarioIDs []string) string {
	if len(usuarioIDs) == 0 {
		return ""
	}
	nombres := make([]string, 0, len(usuarioIDs))
	missing := make([]string, 0, len(usuarioIDs))
	for _, id := range usuarioIDs {
		if v, ok := o.lookups.Get("usuario:" + id); ok {
			if s, ok := v.(string); ok {
				nombres = append(nombres, s)
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		found, err := o.reader.LookupNombres(ctx, missing)
		if err != nil {
			o.log.Debug("lookup de nombres falló", logger.Err(err))
		}
		for id, nombre := range found {
			o.lookups.SetDefault("usuario:"+id, nombre)
			nombres = append(nombres, nombre)
		}
	}
	sort.Strings(nombres)
	return strings.Join(nombres, ", ")
}

// span calcula el rango del evento: día completo (start == end == fecha) o
// rango horario explícito desde hora_inicio/hora_fin.
func span(rec domain.Record) (start, end time.Time, allDay, ok bool) {
	fecha, has := rec.FieldTime(domain.FieldFecha)
	if !has {
		return time.Time{}, time.Time{}, false, false
	}
	fecha = fecha.UTC().Truncate(24 * time.Hour)
	inicio := rec.Field(domain.FieldHoraInicio)
	fin := rec.Field(domain.FieldHoraFin)
	if inicio != "" && fin != "" {
		hi, errI := time.Parse("15:04", inicio)
		hf, errF := time.Parse("15:04", fin)
		if errI == nil && errF == nil {
			start = fecha.Add(time.Duration(hi.Hour())*time.Hour + time.Duration(hi.Minute())*time.Minute)
			end = fecha.Add(time.Duration(hf.Hour())*time.Hour + time.Duration(hf.Minute())*time.Minute)
			return start, end, false, true
		}
	}
	return fecha, fecha, true, true
}
