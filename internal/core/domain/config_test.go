package domain

import "testing"

func baseConfig() PipelineConfig {
	return PipelineConfig{
		ID:        "cfg-1",
		TenantID:  "tenant-1",
		ChatbotID: "bot-1",
		Embedding: EmbeddingSpec{Provider: "ollama", ModelID: "nomic-embed-text", BatchSize: 16},
		Chunking:  ChunkingSpec{Strategy: ChunkingStandard, ChunkSize: 500, Overlap: 50},
		Retrieval: RetrievalSpec{
			Mode:          RetrievalHybrid,
			TopKInitial:   20,
			TopKFinal:     5,
			HybridWeights: HybridWeights{Semantic: 0.7, Keyword: 0.3},
		},
		Generation:  GenerationSpec{Provider: "ollama", ModelID: "llama3.1:8b", Temperature: 0.1, MaxTokens: 2048},
		Performance: PerformanceSpec{ParallelWorkers: 4},
	}
}

func TestReindexFingerprintStable(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	if a.ReindexFingerprint() != b.ReindexFingerprint() {
		t.Fatal("identical configs must share a fingerprint")
	}
}

func TestReindexFingerprintChangesWithModel(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Embedding.ModelID = "mxbai-embed-large"
	if a.ReindexFingerprint() == b.ReindexFingerprint() {
		t.Fatal("embedding model change must change the fingerprint")
	}
}

func TestReindexFingerprintIgnoresBatchSizeAndLiveTunables(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Embedding.BatchSize = 64
	b.Generation.Temperature = 0.9
	b.Retrieval.TopKFinal = 3
	if a.ReindexFingerprint() != b.ReindexFingerprint() {
		t.Fatal("batch size and live-tunable fields must not affect the fingerprint")
	}
}

func TestApplyLiveTunablesLeavesLockedFields(t *testing.T) {
	active := baseConfig()
	proposed := baseConfig()
	proposed.Embedding.ModelID = "other-model"
	proposed.Chunking.ChunkSize = 900
	proposed.Generation.Temperature = 0.8
	proposed.Retrieval.TopKFinal = 3

	merged := active.ApplyLiveTunables(proposed)
	if merged.Embedding.ModelID != active.Embedding.ModelID {
		t.Fatal("embedding model is locked, must not change")
	}
	if merged.Chunking.ChunkSize != active.Chunking.ChunkSize {
		t.Fatal("chunk size is locked, must not change")
	}
	if merged.Generation.Temperature != 0.8 {
		t.Fatal("temperature is live-tunable, must change")
	}
	if merged.Retrieval.TopKFinal != 3 {
		t.Fatal("top_k_final is live-tunable, must change")
	}
}
