package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/hashing"
	embopenai "docqa/internal/embedding/openai"
	llmopenai "docqa/internal/llm/openai"
	"docqa/internal/loader"
	"docqa/internal/service"
	"docqa/internal/vectorindex"
	"docqa/internal/vectorindex/flat"
	"docqa/internal/vectorindex/qdrant"
)

// newService assembles the components selected by cfg.
func newService(cfg *config.AppConfig, logger *log.Logger) (*service.RAG, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg, emb, logger)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.NewRecursive(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	lc := service.NewLifecycle(backend, loader.New(logger), ch, service.LifecycleConfig{
		IndexPath:   cfg.Storage.IndexPath,
		BaseDir:     cfg.Storage.BaseDir,
		LockTimeout: cfg.LockTimeout(),
	}, logger)

	answerer := service.NewAnswerer(newModel(cfg, logger), service.AnswerConfig{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.RelevanceThreshold,
		Timeout:   time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	}, logger)
	return service.NewRAG(lc, answerer, cfg.Storage.UploadsDir, logger), nil
}

func newEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	var inner domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		e, err := hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension)
		if err != nil {
			return nil, err
		}
		inner = e
	case "openai":
		oc := cfg.Embedder.OpenAI
		c, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize:  oc.BatchSize,
			MaxRetries: oc.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfig, cfg.Embedder.Type)
	}
	return embedding.NewCached(inner, cfg.Embedder.CacheSize)
}

func newBackend(cfg *config.AppConfig, emb domain.Embedder, logger *log.Logger) (vectorindex.Backend, error) {
	switch cfg.VectorIndex.Type {
	case "flat":
		codec, err := flat.CodecFor(cfg.VectorIndex.Flat.Format)
		if err != nil {
			return nil, err
		}
		return flat.NewBackend(emb, codec, logger), nil
	case "qdrant":
		qc := cfg.VectorIndex.Qdrant
		b, err := qdrant.NewBackend(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
			BatchSize:  qc.BatchSize,
		}, emb, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector index %q", domain.ErrConfig, cfg.VectorIndex.Type)
	}
}

// newModel returns the chat client, or a stand-in that reports the
// configuration problem on use so that commands without a model still work.
func newModel(cfg *config.AppConfig, logger *log.Logger) domain.LanguageModel {
	c, err := llmopenai.NewClient(llmopenai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKeyEnv:   cfg.LLM.APIKeyEnv,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		logger.Warn("language model unavailable", "err", err)
		return unavailableModel{err: err}
	}
	return c
}

type unavailableModel struct{ err error }

func (u unavailableModel) Complete(context.Context, string) (string, error) { return "", u.err }
