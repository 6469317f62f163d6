package mutate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/dcastineira/procesos/internal/domain/core"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/store/adapters/pg"
)

type fakeRepo struct {
	mu         sync.Mutex
	updates    []domain.Fields
	inserts    []domain.Record
	deletes    []string
	updateErr  error
	insertErr  error
	deleteErr  error
	lastFields domain.Fields
}

func (f *fakeRepo) Ping(context.Context) error { return nil }

func (f *fakeRepo) GetJoined(context.Context, domain.Collection, string) (*domain.Record, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeRepo) List(context.Context, domain.Collection) ([]domain.Record, error) {
	return nil, nil
}

func (f *fakeRepo) Insert(_ context.Context, rec *domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, rec.Clone())
	return nil
}

func (f *fakeRepo) UpdateFields(_ context.Context, _ domain.Collection, _ string, fields domain.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fields.Clone())
	f.lastFields = fields.Clone()
	return nil
}

func (f *fakeRepo) UpdateOrdinal(context.Context, domain.Collection, string, int) error {
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, _ domain.Collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRepo) LookupNombres(context.Context, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

// whitelistRepo rechaza columnas fuera del esquema real, igual que el
// adaptador de PostgreSQL.
type whitelistRepo struct {
	fakeRepo
}

func (f *whitelistRepo) UpdateFields(ctx context.Context, collection domain.Collection, id string, fields domain.Fields) error {
	for col := range fields {
		if !pg.MutableColumn(collection, col) {
			return fmt.Errorf("campo %q no mutable en %s: %w", col, collection, domain.ErrInvalid)
		}
	}
	return f.fakeRepo.UpdateFields(ctx, collection, id, fields)
}

type fakeSyncer struct {
	mu      sync.Mutex
	creados []string
	titulos []string
	estados []string
	fechas  []string
	descs   []string
}

func (f *fakeSyncer) Creado(_ context.Context, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creados = append(f.creados, rec.ID)
}

func (f *fakeSyncer) TituloCambiado(_ context.Context, rec domain.Record, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titulos = append(f.titulos, rec.ID)
}

func (f *fakeSyncer) EstadoCambiado(_ context.Context, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estados = append(f.estados, rec.ID)
}

func (f *fakeSyncer) FechaCambiada(_ context.Context, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fechas = append(f.fechas, rec.ID)
}

func (f *fakeSyncer) DescripcionCambiada(_ context.Context, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descs = append(f.descs, rec.ID)
}

func newTestPipeline() (*Pipeline, *records.Store, *fakeRepo, *fakeSyncer) {
	store := records.NewStore(domain.CollectionTareas)
	repo := &fakeRepo{}
	syncer := &fakeSyncer{}
	return NewPipeline(repo, store, syncer), store, repo, syncer
}

func TestMutateAplicaOptimistaYPersiste(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:   "AUDIENCIA preliminar",
		domain.FieldEstadoID: "pendiente",
	})

	if err := p.Mutate(context.Background(), "t1", domain.FieldTitulo, "AUDIENCIA de vista"); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	got, _ := store.Get("t1")
	if got.Field(domain.FieldTitulo) != "AUDIENCIA de vista" {
		t.Errorf("titulo local = %q", got.Field(domain.FieldTitulo))
	}
	if len(repo.updates) != 1 {
		t.Fatalf("esperaba 1 escritura remota, hubo %d", len(repo.updates))
	}
}

func TestMutateEstadoDerivaFechaCompletada(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:   "SEGUIMIENTO expediente",
		domain.FieldEstadoID: "pendiente",
	})

	if err := p.Mutate(context.Background(), "t1", domain.FieldEstadoID, domain.EstadoCompletada); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// El batch remoto lleva el campo mutado y su derivado juntos.
	if _, ok := repo.lastFields[domain.FieldFechaCompletada]; !ok {
		t.Error("fecha_completada no viajó en la misma escritura")
	}
	got, _ := store.Get("t1")
	if _, ok := got.FieldTime(domain.FieldFechaCompletada); !ok {
		t.Error("fecha_completada no quedó en el estado local")
	}
}

func TestMutateEstadoEnProcesosNoArrastraDerivados(t *testing.T) {
	store := records.NewStore(domain.CollectionProcesos)
	repo := &whitelistRepo{}
	p := NewPipeline(repo, store, nil)
	store.Upsert("p1", domain.Fields{
		domain.FieldTitulo:   "Sucesión García",
		domain.FieldEstadoID: "pendiente",
	})

	// Los procesos no tienen fecha_completada: mutar su estado no puede
	// colar esa columna en la escritura remota.
	if err := p.Mutate(context.Background(), "p1", domain.FieldEstadoID, "en_curso"); err != nil {
		t.Fatalf("mutate estado en procesos: %v", err)
	}
	if _, ok := repo.lastFields[domain.FieldFechaCompletada]; ok {
		t.Error("fecha_completada viajó en la escritura de un proceso")
	}
	got, _ := store.Get("p1")
	if got.Field(domain.FieldEstadoID) != "en_curso" {
		t.Errorf("estado local = %q", got.Field(domain.FieldEstadoID))
	}
}

func TestMutateEstadoEnTareasPasaElEsquema(t *testing.T) {
	store := records.NewStore(domain.CollectionTareas)
	repo := &whitelistRepo{}
	p := NewPipeline(repo, store, nil)
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:   "SEGUIMIENTO expediente",
		domain.FieldEstadoID: "pendiente",
	})

	if err := p.Mutate(context.Background(), "t1", domain.FieldEstadoID, domain.EstadoCompletada); err != nil {
		t.Fatalf("mutate estado en tareas: %v", err)
	}
	if _, ok := repo.lastFields[domain.FieldFechaCompletada]; !ok {
		t.Error("fecha_completada debía viajar en la escritura de la tarea")
	}
}

func TestMutateReabrirLimpiaFechaCompletada(t *testing.T) {
	p, store, _, _ := newTestPipeline()
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:          "SEGUIMIENTO expediente",
		domain.FieldEstadoID:        domain.EstadoCompletada,
		domain.FieldFechaCompletada: time.Now(),
	})

	if err := p.Mutate(context.Background(), "t1", domain.FieldEstadoID, "pendiente"); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	got, _ := store.Get("t1")
	if _, ok := got.FieldTime(domain.FieldFechaCompletada); ok {
		t.Error("reabrir la tarea debía limpiar fecha_completada")
	}
}

func TestMutateFallaRemotaRevierteSoloLoTocado(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	repo.updateErr = errors.New("conexión caída")
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:      "VENCIMIENTO: traslado",
		domain.FieldDescripcion: "intacta",
	})

	err := p.Mutate(context.Background(), "t1", domain.FieldTitulo, "VENCIMIENTO: traslado II")
	if err == nil {
		t.Fatal("esperaba error de persistencia")
	}

	got, _ := store.Get("t1")
	if got.Field(domain.FieldTitulo) != "VENCIMIENTO: traslado" {
		t.Errorf("el título no se revirtió: %q", got.Field(domain.FieldTitulo))
	}
	if got.Field(domain.FieldDescripcion) != "intacta" {
		t.Errorf("la reversión tocó campos ajenos: %q", got.Field(domain.FieldDescripcion))
	}
}

func TestMutateCampoInvalidoNoTocaNada(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	store.Upsert("t1", domain.Fields{domain.FieldTitulo: "AUDIENCIA"})

	if err := p.Mutate(context.Background(), "t1", "orden", 3); err == nil {
		t.Fatal("esperaba error de validación")
	}
	if len(repo.updates) != 0 {
		t.Error("una mutación inválida no debe llegar al store remoto")
	}
}

func TestMutateRegistroInexistente(t *testing.T) {
	p, _, _, _ := newTestPipeline()
	err := p.Mutate(context.Background(), "nope", domain.FieldTitulo, "X")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("esperaba ErrNotFound, hubo %v", err)
	}
}

func TestMutateDisparaElSyncQueCorresponde(t *testing.T) {
	p, store, _, syncer := newTestPipeline()
	store.Upsert("t1", domain.Fields{
		domain.FieldTitulo:   "AUDIENCIA preliminar",
		domain.FieldEstadoID: "pendiente",
	})
	ctx := context.Background()

	if err := p.Mutate(ctx, "t1", domain.FieldFecha, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := p.Mutate(ctx, "t1", domain.FieldHoraInicio, "09:00"); err != nil {
		t.Fatal(err)
	}
	if err := p.Mutate(ctx, "t1", domain.FieldDescripcion, "sala 4"); err != nil {
		t.Fatal(err)
	}
	p.Wait()

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if len(syncer.fechas) != 2 {
		t.Errorf("fecha y hora_inicio disparan el sync de fecha: %d disparos", len(syncer.fechas))
	}
	if len(syncer.descs) != 1 {
		t.Errorf("descripcion: %d disparos", len(syncer.descs))
	}
	if len(syncer.titulos) != 0 || len(syncer.estados) != 0 {
		t.Error("hubo disparos de más")
	}
}

func TestMutateFallidaNoDispara(t *testing.T) {
	p, store, repo, syncer := newTestPipeline()
	repo.updateErr = errors.New("conexión caída")
	store.Upsert("t1", domain.Fields{domain.FieldTitulo: "AUDIENCIA"})

	_ = p.Mutate(context.Background(), "t1", domain.FieldTitulo, "AUDIENCIA II")
	p.Wait()

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if len(syncer.titulos) != 0 {
		t.Error("una mutación revertida no dispara sync")
	}
}

func TestCreateAsignaIDYDispara(t *testing.T) {
	p, store, repo, syncer := newTestPipeline()

	id, err := p.Create(context.Background(), domain.Record{
		Fields: domain.Fields{
			domain.FieldTitulo:   "VENCIMIENTO: contestar",
			domain.FieldEstadoID: "pendiente",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("create sin id asignado")
	}
	if _, ok := store.Get(id); !ok {
		t.Error("el alta no quedó en el estado local")
	}
	if len(repo.inserts) != 1 {
		t.Fatalf("esperaba 1 insert, hubo %d", len(repo.inserts))
	}

	p.Wait()
	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if len(syncer.creados) != 1 || syncer.creados[0] != id {
		t.Errorf("disparo de alta = %v", syncer.creados)
	}
}

func TestCreateLlevaLasRelacionesAlInsert(t *testing.T) {
	p, store, repo, _ := newTestPipeline()

	id, err := p.Create(context.Background(), domain.Record{
		Fields: domain.Fields{
			domain.FieldTitulo:   "AUDIENCIA de vista",
			domain.FieldEstadoID: "pendiente",
		},
		Relations: map[string][]string{
			domain.RelResponsables: {"u-ana"},
			domain.RelDesignados:   {"u-benito"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Las listas de relación viajan con el insert remoto, no sólo al
	// estado local.
	if len(repo.inserts) != 1 {
		t.Fatalf("esperaba 1 insert, hubo %d", len(repo.inserts))
	}
	ins := repo.inserts[0]
	if got := ins.Relation(domain.RelResponsables); len(got) != 1 || got[0] != "u-ana" {
		t.Errorf("responsables en insert = %v", got)
	}
	if got := ins.Relation(domain.RelDesignados); len(got) != 1 || got[0] != "u-benito" {
		t.Errorf("designados en insert = %v", got)
	}
	rec, _ := store.Get(id)
	if got := rec.Relation(domain.RelResponsables); len(got) != 1 {
		t.Errorf("responsables locales = %v", got)
	}
}

func TestCreateFallidoRevierte(t *testing.T) {
	p, store, _, _ := newTestPipeline()
	repo := &fakeRepo{insertErr: errors.New("conexión caída")}
	p = NewPipeline(repo, store, nil)

	_, err := p.Create(context.Background(), domain.Record{
		Fields: domain.Fields{
			domain.FieldTitulo:   "AUDIENCIA",
			domain.FieldEstadoID: "pendiente",
		},
	})
	if err == nil {
		t.Fatal("esperaba error de insert")
	}
	if store.Len() != 0 {
		t.Error("el alta fallida quedó en el estado local")
	}
}

func TestDeleteFallidoRestaura(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	repo.deleteErr = errors.New("conexión caída")
	store.Upsert("t1", domain.Fields{domain.FieldTitulo: "AUDIENCIA"})

	if err := p.Delete(context.Background(), "t1"); err == nil {
		t.Fatal("esperaba error de delete")
	}
	got, ok := store.Get("t1")
	if !ok || got.Field(domain.FieldTitulo) != "AUDIENCIA" {
		t.Error("el registro no se restauró tras la falla")
	}
}

func TestDeleteFallidoRestauraEnSuPosicion(t *testing.T) {
	p, store, repo, _ := newTestPipeline()
	repo.deleteErr = errors.New("conexión caída")
	for _, id := range []string{"t1", "t2", "t3"} {
		store.Upsert(id, domain.Fields{domain.FieldTitulo: id})
	}

	if err := p.Delete(context.Background(), "t2"); err == nil {
		t.Fatal("esperaba error de delete")
	}

	// La restauración no mueve el registro al final del listado.
	got := store.List()
	want := []string{"t1", "t2", "t3"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("pos %d = %q, want %q", i, got[i].ID, id)
		}
	}
}
