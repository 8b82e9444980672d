package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

func TestConfigRepositorySaveActiveDemotesPriorVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConfigRepository(db)
	cfg := &domain.PipelineConfig{
		ID:        "cfg-2",
		TenantID:  "tenant-1",
		ChatbotID: "bot-1",
		Version:   2,
		Status:    domain.ConfigActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pipeline_configs").
		WithArgs("bot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pipeline_configs").
		WithArgs("cfg-2", "tenant-1", "bot-1", 2, "active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigRepositorySaveDraftSkipsDemotion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConfigRepository(db)
	cfg := &domain.PipelineConfig{
		ID:        "cfg-3",
		TenantID:  "tenant-1",
		ChatbotID: "bot-1",
		Version:   3,
		Status:    domain.ConfigDraft,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_configs").
		WithArgs("cfg-3", "tenant-1", "bot-1", 3, "draft", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigRepositoryGetActiveRoundTripsSpec(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConfigRepository(db)
	spec, err := json.Marshal(domain.PipelineConfig{
		ID:        "cfg-1",
		ChatbotID: "bot-1",
		Version:   1,
		Status:    domain.ConfigActive,
	})
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}

	mock.ExpectQuery("FROM pipeline_configs").
		WithArgs("bot-1").
		WillReturnRows(sqlmock.NewRows([]string{"spec"}).AddRow(spec))

	cfg, err := repo.GetActive(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if cfg.ID != "cfg-1" || cfg.Version != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigRepositoryGetActiveMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConfigRepository(db)
	mock.ExpectQuery("FROM pipeline_configs").
		WithArgs("bot-9").
		WillReturnRows(sqlmock.NewRows([]string{"spec"}))

	_, err = repo.GetActive(context.Background(), "bot-9")
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigRepositoryIngestedCorpusSumsReadyDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConfigRepository(db)
	mock.ExpectQuery("FROM documents").
		WithArgs("bot-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, int64(250_000)))

	docs, runes, err := repo.IngestedCorpus(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("IngestedCorpus() error = %v", err)
	}
	if docs != 3 || runes != 250_000 {
		t.Fatalf("expected (3, 250000), got (%d, %d)", docs, runes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
