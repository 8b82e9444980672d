package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/infrastructure/chunking"
)

// EmbedderBuilder constructs a provider embedder; credential is empty when
// the spec carries no credential_ref.
type EmbedderBuilder func(ctx context.Context, spec domain.EmbeddingSpec, credential string) (ports.Embedder, error)

// GeneratorBuilder constructs a provider answer generator.
type GeneratorBuilder func(ctx context.Context, spec domain.GenerationSpec, credential string) (ports.Generator, error)

// RerankerBuilder constructs a reranker for a registered reranker id.
type RerankerBuilder func(ctx context.Context) (ports.Reranker, error)

// Factory resolves validated config fragments into concrete strategy
// instances. Resolution is deterministic; unknown identifiers fail fast with
// domain.ErrConfigNotResolvable instead of falling back silently.
type Factory struct {
	creds ports.CredentialStore
	index ports.ChunkIndex

	embedders  map[string]EmbedderBuilder
	generators map[string]GeneratorBuilder
	rerankers  map[string]RerankerBuilder
}

func NewFactory(creds ports.CredentialStore, index ports.ChunkIndex) *Factory {
	f := &Factory{
		creds:      creds,
		index:      index,
		embedders:  make(map[string]EmbedderBuilder),
		generators: make(map[string]GeneratorBuilder),
		rerankers:  make(map[string]RerankerBuilder),
	}
	f.RegisterReranker("lexical", func(context.Context) (ports.Reranker, error) {
		return NewLexicalReranker(), nil
	})
	return f
}

func (f *Factory) RegisterEmbedderProvider(provider string, builder EmbedderBuilder) {
	f.embedders[provider] = builder
}

func (f *Factory) RegisterGeneratorProvider(provider string, builder GeneratorBuilder) {
	f.generators[provider] = builder
}

func (f *Factory) RegisterReranker(id string, builder RerankerBuilder) {
	f.rerankers[id] = builder
}

// RerankerIDs lists registered reranker identifiers, sorted for determinism.
func (f *Factory) RerankerIDs() []string {
	out := make([]string, 0, len(f.rerankers))
	for id := range f.rerankers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *Factory) MakeEmbedder(ctx context.Context, spec domain.EmbeddingSpec) (ports.Embedder, error) {
	builder, ok := f.embedders[spec.Provider]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfigNotResolvable, "make embedder",
			fmt.Errorf("unknown embedding provider %q", spec.Provider))
	}
	credential, err := f.resolveCredential(ctx, spec.CredentialRef)
	if err != nil {
		return nil, err
	}
	return builder(ctx, spec, credential)
}

func (f *Factory) MakeChunker(ctx context.Context, spec domain.ChunkingSpec, embedding domain.EmbeddingSpec) (ports.Chunker, error) {
	switch spec.Strategy {
	case domain.ChunkingStandard, "":
		return chunking.NewStandardSplitter(spec), nil
	case domain.ChunkingSemantic:
		embedder, err := f.MakeEmbedder(ctx, embedding)
		if err != nil {
			return nil, err
		}
		return chunking.NewSemanticSplitter(spec, embedder), nil
	case domain.ChunkingStructural:
		return chunking.NewStructuralSplitter(spec), nil
	case domain.ChunkingWindow:
		return chunking.NewWindowSplitter(spec), nil
	default:
		return nil, domain.WrapError(domain.ErrConfigNotResolvable, "make chunker",
			fmt.Errorf("unknown chunking strategy %q", spec.Strategy))
	}
}

func (f *Factory) MakeRetriever(spec domain.RetrievalSpec) (ports.Retriever, error) {
	switch spec.Mode {
	case domain.RetrievalVector:
		return &vectorRetriever{index: f.index}, nil
	case domain.RetrievalKeyword:
		return &keywordRetriever{index: f.index}, nil
	case domain.RetrievalHybrid:
		return &hybridRetriever{index: f.index, weights: spec.HybridWeights}, nil
	default:
		return nil, domain.WrapError(domain.ErrConfigNotResolvable, "make retriever",
			fmt.Errorf("unknown retrieval mode %q", spec.Mode))
	}
}

func (f *Factory) MakeReranker(ctx context.Context, spec domain.RetrievalSpec) (ports.Reranker, error) {
	id := spec.RerankerID
	if id == "" {
		id = "lexical"
	}
	builder, ok := f.rerankers[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfigNotResolvable, "make reranker",
			fmt.Errorf("unknown reranker %q", id))
	}
	return builder(ctx)
}

func (f *Factory) MakeGenerator(ctx context.Context, spec domain.GenerationSpec) (ports.Generator, error) {
	builder, ok := f.generators[spec.Provider]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfigNotResolvable, "make generator",
			fmt.Errorf("unknown generation provider %q", spec.Provider))
	}
	credential, err := f.resolveCredential(ctx, spec.CredentialRef)
	if err != nil {
		return nil, err
	}
	return builder(ctx, spec, credential)
}

func (f *Factory) resolveCredential(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	secret, err := f.creds.Resolve(ctx, ref)
	if err != nil {
		return "", domain.WrapError(domain.ErrCredential, "resolve credential", err)
	}
	return secret, nil
}
