package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// providerTraits captures what the validator needs to know about a provider:
// whether it demands an API key and what one thousand embedded tokens cost.
type providerTraits struct {
	requiresKey       bool
	unitEmbeddingCost float64
	generationCost    float64
}

var knownEmbeddingProviders = map[string]providerTraits{
	"ollama":      {requiresKey: false, unitEmbeddingCost: 0},
	"local":       {requiresKey: false, unitEmbeddingCost: 0},
	"openai":      {requiresKey: true, unitEmbeddingCost: 0.0001},
	"cohere":      {requiresKey: true, unitEmbeddingCost: 0.0001},
	"huggingface": {requiresKey: true, unitEmbeddingCost: 0},
}

var knownGenerationProviders = map[string]providerTraits{
	"ollama":    {requiresKey: false, generationCost: 0},
	"local":     {requiresKey: false, generationCost: 0},
	"openai":    {requiresKey: true, generationCost: 0.03},
	"anthropic": {requiresKey: true, generationCost: 0.025},
	"cohere":    {requiresKey: true, generationCost: 0.02},
}

// ConfigValidatorOptions tune probe behavior.
type ConfigValidatorOptions struct {
	PingTimeout time.Duration
	// PingCacheTTL bounds how long a successful probe is trusted, so
	// validation latency stays flat under repeated saves.
	PingCacheTTL time.Duration
	SkipPing     bool
}

// ConfigValidator checks a proposed pipeline config for internal consistency,
// provider compatibility and credential presence, and estimates the cost of
// activating it. Validation never mutates anything.
type ConfigValidator struct {
	validate    *validator.Validate
	creds       ports.CredentialStore
	pinger      ports.ProviderPinger
	configs     ports.ConfigRepository
	rerankerIDs map[string]struct{}
	opts        ConfigValidatorOptions

	mu        sync.Mutex
	pingCache map[string]time.Time
}

func NewConfigValidator(
	creds ports.CredentialStore,
	pinger ports.ProviderPinger,
	configs ports.ConfigRepository,
	rerankerIDs []string,
	opts ConfigValidatorOptions,
) *ConfigValidator {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	if opts.PingCacheTTL <= 0 {
		opts.PingCacheTTL = 5 * time.Minute
	}
	ids := make(map[string]struct{}, len(rerankerIDs))
	for _, id := range rerankerIDs {
		ids[id] = struct{}{}
	}
	return &ConfigValidator{
		validate:    validator.New(),
		creds:       creds,
		pinger:      pinger,
		configs:     configs,
		rerankerIDs: ids,
		opts:        opts,
		pingCache:   make(map[string]time.Time),
	}
}

// Validate runs all checks in order: schema bounds, cross-field consistency,
// provider compatibility, credential presence plus liveness. User-input
// problems land in the result, never in err.
func (v *ConfigValidator) Validate(ctx context.Context, proposed domain.PipelineConfig) (domain.ValidationResult, error) {
	result := domain.ValidationResult{Errors: []domain.FieldError{}, Warnings: []domain.FieldError{}}

	v.checkSchemaBounds(proposed, &result)
	v.checkCrossField(proposed, &result)
	v.checkProviderCompatibility(proposed, &result)
	if err := v.checkCredentials(ctx, proposed, &result); err != nil {
		return result, err
	}

	existing, err := v.configs.GetActive(ctx, proposed.ChatbotID)
	if err != nil && !errors.Is(err, domain.ErrConfigNotFound) {
		return result, fmt.Errorf("load active config: %w", err)
	}

	docs, corpusRunes, err := v.configs.IngestedCorpus(ctx, proposed.ChatbotID)
	if err != nil {
		return result, fmt.Errorf("inspect ingested corpus: %w", err)
	}

	result.CostEstimate = baselineMonthlyCost(proposed)
	if existing != nil && docs > 0 {
		v.checkFieldLocks(*existing, proposed, &result)
		if existing.ReindexFingerprint() != proposed.ReindexFingerprint() {
			result.RequiresReprocessing = true
			result.ConfirmationToken = proposed.ConfirmationToken()
			result.CostEstimate = reprocessingCost(proposed, corpusRunes)
		}
	}

	result.OK = len(result.Errors) == 0
	return result, nil
}

func (v *ConfigValidator) checkSchemaBounds(proposed domain.PipelineConfig, result *domain.ValidationResult) {
	err := v.validate.Struct(proposed)
	if err == nil {
		return
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		addError(result, "config", "config is not validatable", "schema_invalid")
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		addError(result, "config", err.Error(), "schema_invalid")
		return
	}
	for _, fe := range fieldErrs {
		addError(result,
			fieldPath(fe.Namespace()),
			fmt.Sprintf("value fails constraint %q", fe.Tag()),
			"out_of_range")
	}
}

func (v *ConfigValidator) checkCrossField(cfg domain.PipelineConfig, result *domain.ValidationResult) {
	if cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize && cfg.Chunking.ChunkSize > 0 {
		addError(result, "chunking.overlap",
			fmt.Sprintf("overlap (%d) must be smaller than chunk_size (%d)", cfg.Chunking.Overlap, cfg.Chunking.ChunkSize),
			"overlap_exceeds_chunk_size")
	}
	if cfg.Chunking.Overlap > cfg.Chunking.ChunkSize/2 && cfg.Chunking.Overlap < cfg.Chunking.ChunkSize {
		addWarning(result, "chunking.overlap",
			"overlap exceeds 50% of chunk_size, storage will be largely redundant", "high_overlap")
	}
	if cfg.Chunking.ChunkSize > cfg.Generation.MaxTokens && cfg.Generation.MaxTokens > 0 {
		addError(result, "chunking.chunk_size",
			fmt.Sprintf("chunk_size (%d) exceeds generation max_tokens (%d)", cfg.Chunking.ChunkSize, cfg.Generation.MaxTokens),
			"chunk_size_exceeds_limit")
	}

	r := cfg.Retrieval
	if r.TopKFinal > r.TopKInitial {
		addError(result, "retrieval.top_k_final",
			fmt.Sprintf("top_k_final (%d) must not exceed top_k_initial (%d)", r.TopKFinal, r.TopKInitial),
			"top_k_order")
	}
	if r.Mode == domain.RetrievalHybrid {
		sum := r.HybridWeights.Semantic + r.HybridWeights.Keyword
		if math.Abs(sum-1.0) > domain.HybridWeightsEpsilon {
			addError(result, "retrieval.hybrid_weights",
				fmt.Sprintf("weights must sum to 1.0, got %.4f", sum), "weights_sum")
		}
	}
	if r.EnableReranking {
		if r.TopKInitial <= r.TopKFinal {
			addError(result, "retrieval.top_k_initial",
				"reranking requires at least one initial candidate beyond top_k_final", "insufficient_rerank_candidates")
		} else if r.TopKInitial < r.TopKFinal*2 {
			addWarning(result, "retrieval.top_k_initial",
				"top_k_initial below 2x top_k_final weakens reranking", "insufficient_rerank_candidates")
		}
	}
	if cfg.Chunking.Strategy == domain.ChunkingWindow && cfg.Chunking.WindowSize <= 0 {
		addError(result, "chunking.window_size", "window strategy requires window_size >= 1", "missing_window_size")
	}
	if cfg.Chunking.Strategy == domain.ChunkingSemantic && cfg.Chunking.SemanticThreshold <= 0 {
		addError(result, "chunking.semantic_threshold", "semantic strategy requires a positive threshold", "missing_threshold")
	}
}

func (v *ConfigValidator) checkProviderCompatibility(cfg domain.PipelineConfig, result *domain.ValidationResult) {
	if _, ok := knownEmbeddingProviders[cfg.Embedding.Provider]; !ok && cfg.Embedding.Provider != "" {
		addError(result, "embedding.provider",
			fmt.Sprintf("unknown embedding provider %q", cfg.Embedding.Provider), "unknown_provider")
	}
	if _, ok := knownGenerationProviders[cfg.Generation.Provider]; !ok && cfg.Generation.Provider != "" {
		addError(result, "generation.provider",
			fmt.Sprintf("unknown generation provider %q", cfg.Generation.Provider), "unknown_provider")
	}
	if isLocalProvider(cfg.Generation.Provider) && !isLocalProvider(cfg.Embedding.Provider) {
		addWarning(result, "embedding.provider",
			"local generation paired with a remote embedding provider; consider a local embedder for consistency",
			"provider_mismatch")
	}
	if cfg.Retrieval.EnableReranking && cfg.Retrieval.RerankerID != "" {
		if _, ok := v.rerankerIDs[cfg.Retrieval.RerankerID]; !ok {
			addError(result, "retrieval.reranker_id",
				fmt.Sprintf("unknown reranker %q", cfg.Retrieval.RerankerID), "unknown_reranker")
		}
	}
}

func (v *ConfigValidator) checkCredentials(ctx context.Context, cfg domain.PipelineConfig, result *domain.ValidationResult) error {
	type credCheck struct {
		field    string
		provider string
		ref      string
		traits   providerTraits
		known    bool
	}
	embTraits, embKnown := knownEmbeddingProviders[cfg.Embedding.Provider]
	genTraits, genKnown := knownGenerationProviders[cfg.Generation.Provider]
	checks := []credCheck{
		{field: "embedding.credential_ref", provider: cfg.Embedding.Provider, ref: cfg.Embedding.CredentialRef, traits: embTraits, known: embKnown},
		{field: "generation.credential_ref", provider: cfg.Generation.Provider, ref: cfg.Generation.CredentialRef, traits: genTraits, known: genKnown},
	}

	for _, check := range checks {
		if !check.known || !check.traits.requiresKey {
			continue
		}
		if check.ref == "" {
			addError(result, check.field,
				fmt.Sprintf("credential reference required for provider %q", check.provider), "missing_credential")
			continue
		}
		secret, err := v.creds.Resolve(ctx, check.ref)
		if err != nil {
			addError(result, check.field,
				fmt.Sprintf("credential %q does not resolve to a stored secret", check.ref), "unresolvable_credential")
			continue
		}
		if err := v.probeProvider(ctx, check.provider, secret); err != nil {
			addError(result, check.field,
				fmt.Sprintf("provider %q rejected the credential: %v", check.provider, err), "credential_rejected")
		}
	}
	return nil
}

// probeProvider performs the liveness check, memoized per provider so
// repeated validation stays cheap.
func (v *ConfigValidator) probeProvider(ctx context.Context, provider, secret string) error {
	if v.opts.SkipPing || v.pinger == nil {
		return nil
	}
	key := provider + "\x00" + secret

	v.mu.Lock()
	if at, ok := v.pingCache[key]; ok && time.Since(at) < v.opts.PingCacheTTL {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, v.opts.PingTimeout)
	defer cancel()
	if err := v.pinger.Ping(probeCtx, provider, secret); err != nil {
		return err
	}

	v.mu.Lock()
	v.pingCache[key] = time.Now()
	v.mu.Unlock()
	return nil
}

// checkFieldLocks flags non-live-tunable edits to a config that already has
// ingested documents. Fingerprint-affecting fields are handled separately via
// the reprocessing confirmation.
func (v *ConfigValidator) checkFieldLocks(existing, proposed domain.PipelineConfig, result *domain.ValidationResult) {
	if existing.ReindexFingerprint() != proposed.ReindexFingerprint() {
		return // fingerprint changes go through the reprocessing path
	}
	if existing.Retrieval.Mode != proposed.Retrieval.Mode {
		addError(result, "retrieval.mode", "retrieval mode is locked once documents are ingested", "field_locked")
	}
	if existing.Retrieval.HybridWeights != proposed.Retrieval.HybridWeights {
		addError(result, "retrieval.hybrid_weights", "hybrid weights are locked once documents are ingested", "field_locked")
	}
	if existing.Generation.Provider != proposed.Generation.Provider ||
		existing.Generation.ModelID != proposed.Generation.ModelID {
		addError(result, "generation.model_id", "generation model is locked once documents are ingested", "field_locked")
	}
}

func baselineMonthlyCost(cfg domain.PipelineConfig) float64 {
	emb := knownEmbeddingProviders[cfg.Embedding.Provider].unitEmbeddingCost
	gen := knownGenerationProviders[cfg.Generation.Provider].generationCost
	// Rough planning figure: one million tokens per month.
	return round2((emb + gen) * 1000)
}

// reprocessingCost is estimated_chunk_count x unit_embedding_cost over the
// already-ingested corpus.
func reprocessingCost(cfg domain.PipelineConfig, corpusRunes int64) float64 {
	unit := knownEmbeddingProviders[cfg.Embedding.Provider].unitEmbeddingCost
	return round2(float64(EstimateChunkCount(corpusRunes, cfg.Chunking)) * unit)
}

// EstimateChunkCount predicts how many chunks a corpus of the given rune size
// produces under a chunking spec.
func EstimateChunkCount(corpusRunes int64, spec domain.ChunkingSpec) int64 {
	if corpusRunes <= 0 {
		return 0
	}
	switch spec.Strategy {
	case domain.ChunkingStructural:
		return maxI64(1, corpusRunes/2000)
	case domain.ChunkingSemantic:
		return maxI64(1, corpusRunes/1500)
	case domain.ChunkingWindow:
		window := int64(spec.WindowSize)
		if window <= 0 {
			window = 3
		}
		const avgSentenceRunes = 100
		return maxI64(1, corpusRunes/avgSentenceRunes/(window*2))
	default:
		size := int64(spec.ChunkSize)
		if size <= 0 {
			size = 900
		}
		overlap := int64(spec.Overlap)
		if overlap >= size {
			overlap = 0
		}
		return maxI64(1, (corpusRunes-overlap)/(size-overlap)+1)
	}
}

func addError(result *domain.ValidationResult, field, message, code string) {
	result.Errors = append(result.Errors, domain.FieldError{
		Field: field, Message: message, Code: code, Severity: domain.SeverityError,
	})
}

func addWarning(result *domain.ValidationResult, field, message, code string) {
	result.Warnings = append(result.Warnings, domain.FieldError{
		Field: field, Message: message, Code: code, Severity: domain.SeverityWarning,
	})
}

// fieldPath converts a validator namespace like
// "PipelineConfig.Retrieval.TopKFinal" to "retrieval.top_k_final".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the struct name
	}
	for i, part := range parts {
		parts[i] = toSnake(part)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isLocalProvider(provider string) bool {
	return provider == "local" || provider == "ollama"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ConfigService couples validation with persistence of the ACTIVE config.
type ConfigService struct {
	validator *ConfigValidator
	configs   ports.ConfigRepository
}

func NewConfigService(validator *ConfigValidator, configs ports.ConfigRepository) *ConfigService {
	return &ConfigService{validator: validator, configs: configs}
}

func (s *ConfigService) Validate(ctx context.Context, proposed domain.PipelineConfig) (domain.ValidationResult, error) {
	return s.validator.Validate(ctx, proposed)
}

// Save validates and persists the proposed config as ACTIVE. A config whose
// change requires reprocessing stays inactive until confirmToken echoes the
// token from the validation result.
func (s *ConfigService) Save(ctx context.Context, proposed domain.PipelineConfig, confirmToken string) (domain.ValidationResult, *domain.PipelineConfig, error) {
	result, err := s.validator.Validate(ctx, proposed)
	if err != nil {
		return result, nil, err
	}
	if !result.OK {
		return result, nil, nil
	}
	if result.RequiresReprocessing && confirmToken != result.ConfirmationToken {
		addError(&result, "confirmation_token",
			"this change reprocesses all documents; echo the confirmation token to proceed", "confirmation_required")
		result.OK = false
		return result, nil, nil
	}

	existing, err := s.configs.GetActive(ctx, proposed.ChatbotID)
	if err != nil && !errors.Is(err, domain.ErrConfigNotFound) {
		return result, nil, fmt.Errorf("load active config: %w", err)
	}

	now := time.Now().UTC()
	saved := proposed
	saved.Status = domain.ConfigActive
	saved.UpdatedAt = now
	if existing != nil {
		saved.Version = existing.Version + 1
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.Version = 1
		saved.CreatedAt = now
	}
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}

	if err := s.configs.Save(ctx, &saved); err != nil {
		return result, nil, fmt.Errorf("persist config: %w", err)
	}
	return result, &saved, nil
}
