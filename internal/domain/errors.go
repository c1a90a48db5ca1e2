package domain

import "errors"

// Error categories. Implementations wrap these with fmt.Errorf("...: %w")
// and callers classify with errors.Is.
var (
	// ErrLoad: a source folder or file could not be read or parsed.
	ErrLoad = errors.New("load error")
	// ErrIndexBuild: an index was requested from zero chunks.
	ErrIndexBuild = errors.New("index build error")
	// ErrIndexLoad: a persisted index is missing, corrupt or built with another model.
	ErrIndexLoad = errors.New("index load error")
	// ErrEmbedding: the embedding provider failed or got malformed input.
	ErrEmbedding = errors.New("embedding error")
	// ErrModel: the language model call failed or returned an error response.
	ErrModel = errors.New("model error")
	// ErrModelTimeout: the language model did not answer in time.
	ErrModelTimeout = errors.New("model timeout")
	// ErrConfig: required configuration is missing or invalid.
	ErrConfig = errors.New("config error")
	// ErrEmptyKnowledgeBase: a query was made with no indexed documents.
	ErrEmptyKnowledgeBase = errors.New("knowledge base is empty")
	// ErrEmptyQuery: the question was blank.
	ErrEmptyQuery = errors.New("empty query")
)
