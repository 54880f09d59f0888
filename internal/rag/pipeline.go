package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pageask/pageask/internal/extract"
	"github.com/pageask/pageask/internal/llm"
	"github.com/pageask/pageask/internal/observability"
	"github.com/pageask/pageask/internal/vector"
)

// NoContentAnswer is returned when the page has no extractable text.
const NoContentAnswer = "I couldn't find any text on this page."

const systemPrompt = "You are a helpful assistant. Answer the user's question using ONLY the context provided below."

// FetchFailedError marks a failure to load the target page. The API maps
// it to a client error; everything else is internal.
type FetchFailedError struct {
	URL string
	Err error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("failed to load page %s: %v", e.URL, e.Err)
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// Fetcher retrieves raw page bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config holds the pipeline's tunables.
type Config struct {
	// ChunkSize and ChunkOverlap control the text windowing.
	ChunkSize    int
	ChunkOverlap int
	// MaxChunks caps how many chunks get indexed per page.
	MaxChunks int
	// TopK is how many chunks feed the generation context.
	TopK int
	// AskTimeout bounds one whole request.
	AskTimeout time.Duration
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MaxChunks:    8,
		TopK:         5,
		AskTimeout:   120 * time.Second,
	}
}

// Pipeline answers questions about web pages: fetch, extract, chunk,
// embed, retrieve, generate.
type Pipeline struct {
	fetcher  Fetcher
	embedder *llm.ResilientEmbedder
	provider llm.Provider
	store    vector.Store
	metrics  *observability.ServiceMetrics
	logger   *slog.Logger
	config   *Config
}

// New creates a pipeline. metrics may be nil; a nil config uses defaults.
func New(fetcher Fetcher, embedder *llm.ResilientEmbedder, provider llm.Provider, store vector.Store, metrics *observability.ServiceMetrics, logger *slog.Logger, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:  fetcher,
		embedder: embedder,
		provider: provider,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Ask answers query from the content of the page at url.
func (p *Pipeline) Ask(ctx context.Context, url, query string) (answer string, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.AskTimeout)
	defer cancel()

	requestID := uuid.NewString()
	logger := p.logger.With("request_id", requestID, "url", url)
	audit := observability.Audit()
	audit.LogAskStart(ctx, requestID, url)

	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveRequests.Inc()
		defer p.metrics.ActiveRequests.Dec()
		defer func() {
			p.metrics.RecordAsk(time.Since(start), err)
		}()
	}
	defer func() {
		if err != nil {
			audit.LogAskError(ctx, requestID, err)
		}
	}()

	ctx, askSpan := observability.StartAskSpan(ctx, url)
	defer askSpan.End()
	defer func() { observability.RecordError(askSpan, err) }()

	// A. Fetch
	logger.Info("scraping page")
	fetchStart := time.Now()
	fetchCtx, fetchSpan := observability.StartStageSpan(ctx, "fetch")
	page, ferr := p.fetcher.Fetch(fetchCtx, url)
	observability.RecordError(fetchSpan, ferr)
	fetchSpan.End()
	audit.LogPageFetch(ctx, requestID, url, len(page), time.Since(fetchStart), ferr)
	if ferr != nil {
		return "", &FetchFailedError{URL: url, Err: ferr}
	}

	// B. Extract + chunk
	_, extractSpan := observability.StartStageSpan(ctx, "extract")
	text := extract.Text(page)
	extractSpan.End()

	_, chunkSpan := observability.StartStageSpan(ctx, "chunk")
	chunks := Chunk(text, p.config.ChunkSize, p.config.ChunkOverlap)
	extracted := len(chunks)
	if len(chunks) > p.config.MaxChunks {
		logger.Info("page is long, truncating",
			"chunks", len(chunks), "max_chunks", p.config.MaxChunks)
		chunks = chunks[:p.config.MaxChunks]
	}
	observability.RecordChunkCounts(chunkSpan, extracted, len(chunks))
	chunkSpan.End()

	if len(chunks) == 0 {
		if p.metrics != nil {
			p.metrics.EmptyPagesTotal.Inc()
		}
		logger.Info("no text extracted from page")
		return NoContentAnswer, nil
	}

	// C. Index into a per-request collection
	collection := "ask_" + requestID
	if cerr := p.store.CreateCollection(ctx, collection, p.embedder.Dimension()); cerr != nil {
		return "", fmt.Errorf("create collection: %w", cerr)
	}
	defer p.dropCollection(collection, logger)

	logger.Info("indexing chunks", "count", len(chunks))
	indexCtx, indexSpan := observability.StartStageSpan(ctx, "index")
	vectors := p.embedder.EmbedEach(indexCtx, chunks)
	docs := make([]vector.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vector.Document{
			ID:      strconv.Itoa(i),
			Content: chunk,
			Vector:  vectors[i],
		}
	}
	uerr := p.store.Upsert(indexCtx, collection, docs)
	observability.RecordError(indexSpan, uerr)
	indexSpan.End()
	if uerr != nil {
		return "", fmt.Errorf("index chunks: %w", uerr)
	}

	// D. Retrieve
	retrieveCtx, retrieveSpan := observability.StartStageSpan(ctx, "retrieve")
	queryVec := p.embedder.EmbedEach(retrieveCtx, []string{query})[0]
	results, serr := p.store.Search(retrieveCtx, collection, queryVec, p.config.TopK)
	observability.RecordError(retrieveSpan, serr)
	retrieveSpan.End()
	if serr != nil {
		return "", fmt.Errorf("search: %w", serr)
	}

	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Content
	}
	contextText := strings.Join(contexts, "\n\n")

	// E. Generate
	logger.Info("asking model", "provider", p.provider.Name())
	genCtx, genSpan := observability.StartLLMSpan(ctx, p.provider.Name(), "")
	genStart := time.Now()
	resp, gerr := p.provider.Complete(genCtx, &llm.Prompt{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf("CONTEXT:\n%s\n\nUSER QUESTION:\n%s", contextText, query)},
		},
	}, nil)
	if p.metrics != nil {
		p.metrics.RecordLLMRequest(time.Since(genStart), gerr)
	}
	observability.RecordError(genSpan, gerr)
	if gerr != nil {
		genSpan.End()
		audit.LogLLMError(ctx, p.provider.Name(), "", gerr)
		return "", fmt.Errorf("generate answer: %w", gerr)
	}
	observability.RecordLLMMetrics(genSpan, resp.InputTokens, resp.OutputTokens, time.Since(genStart))
	genSpan.End()
	audit.LogLLMResponse(ctx, p.provider.Name(), resp.Model, time.Since(genStart), resp.InputTokens, resp.OutputTokens)
	audit.LogAskComplete(ctx, requestID, time.Since(start), len(chunks))

	return resp.Content, nil
}

// dropCollection cleans up best-effort after the request, even when the
// request context is already cancelled.
func (p *Pipeline) dropCollection(name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.DropCollection(ctx, name); err != nil {
		logger.Warn("failed to drop request collection", "collection", name, "error", err)
	}
}
