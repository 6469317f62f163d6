package calendar

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/synclock"
)

type fakeClient struct {
	mu      sync.Mutex
	creates []Event
	updates []Patch
	// updateErr se devuelve en el próximo Update, una sola vez.
	updateErr error
}

func (f *fakeClient) Create(_ context.Context, ev Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, ev)
	return "ext-1", nil
}

func (f *fakeClient) Update(_ context.Context, _ string, p Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, p)
	err := f.updateErr
	f.updateErr = nil
	return err
}

func (f *fakeClient) calls() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates)
}

type fakeReader struct {
	joined  *domain.Record
	nombres map[string]string
}

func (f *fakeReader) GetJoined(_ context.Context, _ domain.Collection, _ string) (*domain.Record, error) {
	if f.joined == nil {
		return nil, domain.ErrNotFound
	}
	return f.joined, nil
}

func (f *fakeReader) LookupNombres(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if n, ok := f.nombres[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func newTestOrchestrator() (*Orchestrator, *fakeClient, *fakeReader) {
	client := &fakeClient{}
	reader := &fakeReader{}
	o := NewOrchestrator(client, synclock.NewMemory(time.Second), reader, time.Minute)
	return o, client, reader
}

func tarea(id, titulo string, fields domain.Fields) domain.Record {
	f := domain.Fields{domain.FieldTitulo: titulo}
	for k, v := range fields {
		f[k] = v
	}
	return domain.Record{ID: id, Collection: domain.CollectionTareas, Fields: f}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		titulo string
		want   bool
	}{
		{"VENCIMIENTO: contestar demanda", true},
		{"vencimiento traslado", true},
		{"Audiencia preliminar", true},
		{"REUNIÓN con cliente", true},
		{"Reunion de equipo", true},
		{"SEGUIMIENTO expediente 443", true},
		{"Redactar escrito", false},
		{"", false},
		{"  AUDIENCIA con espacios", true},
	}
	for _, c := range cases {
		if got := Eligible(c.titulo); got != c.want {
			t.Errorf("Eligible(%q) = %v, esperaba %v", c.titulo, got, c.want)
		}
	}
}

func TestIneligibleNeverCalls(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	ctx := context.Background()
	rec := tarea("t1", "Redactar escrito", domain.Fields{
		domain.FieldFecha: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})

	o.Creado(ctx, rec)
	o.FechaCambiada(ctx, rec)
	o.EstadoCambiado(ctx, rec)
	o.DescripcionCambiada(ctx, rec)
	o.TituloCambiado(ctx, rec, "Otro escrito")

	creates, updates := client.calls()
	if creates != 0 || updates != 0 {
		t.Fatalf("registro no elegible generó llamadas: %d creates, %d updates", creates, updates)
	}
}

func TestCreadoAllDay(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	fecha := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := tarea("t1", "VENCIMIENTO: contestar demanda", domain.Fields{
		domain.FieldFecha: fecha,
	})

	o.Creado(context.Background(), rec)

	if len(client.creates) != 1 {
		t.Fatalf("esperaba 1 create, hubo %d", len(client.creates))
	}
	ev := client.creates[0]
	if !ev.AllDay || !ev.Start.Equal(fecha) || !ev.End.Equal(fecha) {
		t.Errorf("evento de día completo incorrecto: allDay=%v start=%v end=%v", ev.AllDay, ev.Start, ev.End)
	}
	if ev.CorrelationID != "t1" {
		t.Errorf("correlation id = %q", ev.CorrelationID)
	}
}

func TestCreadoSinFechaNoLlama(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	rec := tarea("t1", "AUDIENCIA preliminar", nil)

	o.Creado(context.Background(), rec)

	if creates, _ := client.calls(); creates != 0 {
		t.Fatalf("sin fecha no debería crear evento, hubo %d creates", creates)
	}
}

func TestCreadoConHoras(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	fecha := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := tarea("t1", "AUDIENCIA preliminar", domain.Fields{
		domain.FieldFecha:      fecha,
		domain.FieldHoraInicio: "09:30",
		domain.FieldHoraFin:    "11:00",
	})

	o.Creado(context.Background(), rec)

	if len(client.creates) != 1 {
		t.Fatalf("esperaba 1 create, hubo %d", len(client.creates))
	}
	ev := client.creates[0]
	if ev.AllDay {
		t.Error("con horas explícitas el evento no es de día completo")
	}
	wantStart := fecha.Add(9*time.Hour + 30*time.Minute)
	wantEnd := fecha.Add(11 * time.Hour)
	if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantEnd) {
		t.Errorf("rango horario: start=%v end=%v", ev.Start, ev.End)
	}
}

func TestFechaCambiadaNotFoundCreaUnaVez(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	client.updateErr = ErrArtifactNotFound
	fecha := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	rec := tarea("t9", "AUDIENCIA: testigos", domain.Fields{
		domain.FieldFecha: fecha,
	})

	o.FechaCambiada(context.Background(), rec)

	creates, updates := client.calls()
	if updates != 1 || creates != 1 {
		t.Fatalf("esperaba 1 update y 1 create, hubo %d/%d", updates, creates)
	}
	// El create de auto-reparación lleva el mismo rango que el update fallido.
	p := client.updates[0]
	ev := client.creates[0]
	if !p.Start.Equal(ev.Start) || !p.End.Equal(ev.End) {
		t.Errorf("rangos distintos: patch %v-%v, evento %v-%v", *p.Start, *p.End, ev.Start, ev.End)
	}
	if !ev.Start.Equal(fecha) {
		t.Errorf("start = %v, esperaba %v", ev.Start, fecha)
	}
}

func TestEstadoCompletadaMarca(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	rec := tarea("t3", "SEGUIMIENTO expediente", domain.Fields{
		domain.FieldEstadoID: domain.EstadoCompletada,
	})

	o.EstadoCambiado(context.Background(), rec)

	if len(client.updates) != 1 {
		t.Fatalf("esperaba 1 update, hubo %d", len(client.updates))
	}
	p := client.updates[0]
	if p.Title == nil || *p.Title != completionMarker+"SEGUIMIENTO expediente" {
		t.Errorf("título marcado = %v", p.Title)
	}
	if p.Completed == nil || !*p.Completed {
		t.Error("el patch debe marcar completed")
	}
}

func TestEstadoNoCompletadaNoLlama(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	rec := tarea("t3", "SEGUIMIENTO expediente", domain.Fields{
		domain.FieldEstadoID: "en_curso",
	})

	o.EstadoCambiado(context.Background(), rec)

	if _, updates := client.calls(); updates != 0 {
		t.Fatalf("estado no completado no debería sincronizar, hubo %d updates", updates)
	}
}

func TestEstadoCompletadaSinFallbackDeCreacion(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	client.updateErr = ErrArtifactNotFound
	rec := tarea("t3", "SEGUIMIENTO expediente", domain.Fields{
		domain.FieldEstadoID: domain.EstadoCompletada,
	})

	o.EstadoCambiado(context.Background(), rec)

	creates, updates := client.calls()
	if updates != 1 || creates != 0 {
		t.Fatalf("el sync de estado no crea eventos: %d creates, %d updates", creates, updates)
	}
}

func TestTituloRenombradoDesdeNoElegibleCrea(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	fecha := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := tarea("t4", "VENCIMIENTO: apelación", domain.Fields{
		domain.FieldFecha: fecha,
	})

	o.TituloCambiado(context.Background(), rec, "Apelación")

	creates, updates := client.calls()
	if creates != 1 || updates != 0 {
		t.Fatalf("renombre a elegible debe crear, hubo %d creates, %d updates", creates, updates)
	}
}

func TestTituloRenombradoElegibleActualiza(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	fecha := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := tarea("t4", "VENCIMIENTO: apelación civil", domain.Fields{
		domain.FieldFecha: fecha,
	})

	o.TituloCambiado(context.Background(), rec, "VENCIMIENTO: apelación")

	creates, updates := client.calls()
	if creates != 0 || updates != 1 {
		t.Fatalf("renombre entre elegibles debe actualizar, hubo %d creates, %d updates", creates, updates)
	}
	if p := client.updates[0]; p.Title == nil || *p.Title != "VENCIMIENTO: apelación civil" {
		t.Errorf("título del patch = %v", p.Title)
	}
}

func TestClavesIndependientesPorTipo(t *testing.T) {
	o, client, _ := newTestOrchestrator()
	ctx := context.Background()
	fecha := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := tarea("t7", "VENCIMIENTO: traslado", domain.Fields{
		domain.FieldFecha:    fecha,
		domain.FieldEstadoID: domain.EstadoCompletada,
	})

	// Tomar la clave de estado no bloquea el disparo de título.
	if !o.locks.TryAcquire(ctx, synclock.Key(KindEstado, "t7")) {
		t.Fatal("no se pudo tomar la clave de estado")
	}
	defer o.locks.Release(ctx, synclock.Key(KindEstado, "t7"))

	o.EstadoCambiado(ctx, rec)
	o.TituloCambiado(ctx, rec, "VENCIMIENTO: traslado viejo")

	creates, updates := client.calls()
	if updates != 1 || creates != 0 {
		t.Fatalf("solo el disparo de título debía pasar: %d creates, %d updates", creates, updates)
	}
}

func TestDescripcionRelee(t *testing.T) {
	o, client, reader := newTestOrchestrator()
	reader.joined = &domain.Record{
		ID:         "t5",
		Collection: domain.CollectionTareas,
		Fields: domain.Fields{
			domain.FieldTitulo:      "REUNION con cliente",
			domain.FieldDescripcion: "llevar poder firmado",
			"cliente_nombre":        "García S.A.",
		},
		Relations: map[string][]string{
			domain.RelResponsables: {"u1", "u2"},
		},
	}
	reader.nombres = map[string]string{"u1": "Ana", "u2": "Benito"}
	rec := tarea("t5", "REUNION con cliente", nil)

	o.DescripcionCambiada(context.Background(), rec)

	if len(client.updates) != 1 {
		t.Fatalf("esperaba 1 update, hubo %d", len(client.updates))
	}
	p := client.updates[0]
	if p.Description == nil || *p.Description != "llevar poder firmado" {
		t.Errorf("descripción = %v", p.Description)
	}
	if p.Responsables == nil || *p.Responsables != "Ana, Benito" {
		t.Errorf("resumen de responsables = %v", p.Responsables)
	}
	if p.Cliente == nil || *p.Cliente != "García S.A." {
		t.Errorf("cliente = %v", p.Cliente)
	}
}
