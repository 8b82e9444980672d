package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

type ConfigRepository struct {
	db *sql.DB
}

func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Save stores a config version. When the new config is active, prior active
// versions for the chatbot are demoted in the same transaction so at most one
// version serves queries.
func (r *ConfigRepository) Save(ctx context.Context, cfg *domain.PipelineConfig) error {
	spec, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config spec: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save config tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if cfg.Status == domain.ConfigActive {
		if _, err := tx.ExecContext(ctx, `
UPDATE pipeline_configs
SET status = 'draft', updated_at = $2
WHERE chatbot_id = $1 AND status = 'active'
`, cfg.ChatbotID, time.Now().UTC()); err != nil {
			return fmt.Errorf("demote active configs: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO pipeline_configs (id, tenant_id, chatbot_id, version, status, spec, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, cfg.ID, cfg.TenantID, cfg.ChatbotID, cfg.Version, string(cfg.Status), spec, cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("insert config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save config tx: %w", err)
	}
	return nil
}

func (r *ConfigRepository) GetActive(ctx context.Context, chatbotID string) (*domain.PipelineConfig, error) {
	var spec []byte
	err := r.db.QueryRowContext(ctx, `
SELECT spec
FROM pipeline_configs
WHERE chatbot_id = $1 AND status = 'active'
ORDER BY version DESC
LIMIT 1
`, chatbotID).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chatbot %s: %w", chatbotID, domain.ErrConfigNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active config: %w", err)
	}

	var cfg domain.PipelineConfig
	if err := json.Unmarshal(spec, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config spec: %w", err)
	}
	return &cfg, nil
}

func (r *ConfigRepository) IngestedCorpus(ctx context.Context, chatbotID string) (int, int64, error) {
	var docs int
	var totalRunes int64
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(text_runes), 0)
FROM documents
WHERE chatbot_id = $1 AND status = 'ready'
`, chatbotID).Scan(&docs, &totalRunes)
	if err != nil {
		return 0, 0, fmt.Errorf("ingested corpus: %w", err)
	}
	return docs, totalRunes, nil
}
