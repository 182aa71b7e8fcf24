package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/genome"
	"github.com/shivazshu/evo2-vep/internal/inference"
	"github.com/shivazshu/evo2-vep/internal/metrics"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

// SequenceAPI is the slice of the genome-sequence gateway the handlers need.
type SequenceAPI interface {
	ListGenomes(ctx context.Context) (genome.GenomesResult, error)
	ListChromosomes(ctx context.Context, genomeID string) (genome.ChromosomesResult, error)
	FetchSequence(ctx context.Context, chrom string, start, end int64, genomeID string) (genome.SequenceResult, error)
	Proxy(ctx context.Context, endpoint string) (genome.ProxyResult, error)
}

// GeneAPI is the slice of the gene-registry gateway the handlers need.
type GeneAPI interface {
	SearchGenes(ctx context.Context, query, genomeID string) (genome.GeneSearchResult, error)
	GeneDetails(ctx context.Context, geneID string) (genome.GeneDetailsResult, error)
	ClinVarVariants(ctx context.Context, chrom string, bounds genome.GeneBounds, genomeID string) ([]genome.ClinVarVariant, error)
	Proxy(ctx context.Context, endpoint string) (genome.ProxyResult, error)
}

// Analyzer scores variants on the inference backend.
type Analyzer interface {
	Analyze(ctx context.Context, req inference.Request) (inference.Prediction, error)
}

// Handler exposes the mediation layer over HTTP.
type Handler struct {
	sequences SequenceAPI
	genes     GeneAPI
	analyzer  Analyzer
	store     *cache.Tiered
	queues    map[string]*upstream.Queue
	logger    *slog.Logger
	metrics   *metrics.Recorder
	started   time.Time
}

func NewHandler(sequences SequenceAPI, genes GeneAPI, analyzer Analyzer, store *cache.Tiered, queues map[string]*upstream.Queue, logger *slog.Logger, rec *metrics.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sequences: sequences,
		genes:     genes,
		analyzer:  analyzer,
		store:     store,
		queues:    queues,
		logger:    logger.With(slog.String("component", "http")),
		metrics:   rec,
		started:   time.Now(),
	}
}

// Router builds the URL dispatch table.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("GET /genomes", h.handleGenomes)
	mux.HandleFunc("GET /genomes/{genomeID}/chromosomes", h.handleChromosomes)

	mux.HandleFunc("GET /genes/search", h.handleGeneSearchGet)
	mux.HandleFunc("POST /genes/search", h.handleGeneSearchPost)
	mux.HandleFunc("GET /genes/{geneID}/details", h.handleGeneDetailsGet)
	mux.HandleFunc("POST /genes/details", h.handleGeneDetailsPost)
	mux.HandleFunc("GET /genes/sequence", h.handleSequenceGet)
	mux.HandleFunc("POST /genes/sequence", h.handleSequencePost)
	mux.HandleFunc("GET /clinvar/variants", h.handleClinVar)

	mux.HandleFunc("POST /analyze", h.handleAnalyze)

	mux.HandleFunc("GET /proxy/ucsc", h.handleProxyUCSC)
	mux.HandleFunc("GET /proxy/ncbi", h.handleProxyNCBI)

	mux.HandleFunc("GET /cache/stats", h.handleCacheStats)
	mux.HandleFunc("GET /cache/connection", h.handleCacheConnection)
	mux.HandleFunc("POST /cache/clear", h.handleCacheClear)
	mux.HandleFunc("POST /cache/clear/pattern/{pattern}", h.handleCacheClearPattern)
	mux.HandleFunc("GET /queue/status", h.handleQueueStatus)
	mux.HandleFunc("POST /queue/reset-rate-limit", h.handleQueueReset)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	return withCORS(mux)
}

// withCORS mirrors the permissive policy of the original deployment; the
// service sits behind its own edge and the browser client is first-party.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleGenomes(w http.ResponseWriter, r *http.Request) {
	result, err := h.sequences.ListGenomes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleChromosomes(w http.ResponseWriter, r *http.Request) {
	result, err := h.sequences.ListChromosomes(r.Context(), r.PathValue("genomeID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGeneSearchGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	genomeID := r.URL.Query().Get("genome")
	if query == "" || genomeID == "" {
		writeDetail(w, http.StatusBadRequest, "query and genome are required")
		return
	}
	h.geneSearch(w, r, query, genomeID)
}

func (h *Handler) handleGeneSearchPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query  string `json:"query"`
		Genome string `json:"genome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" || body.Genome == "" {
		writeDetail(w, http.StatusBadRequest, "query and genome are required")
		return
	}
	h.geneSearch(w, r, body.Query, body.Genome)
}

func (h *Handler) geneSearch(w http.ResponseWriter, r *http.Request, query, genomeID string) {
	result, err := h.genes.SearchGenes(r.Context(), query, genomeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGeneDetailsGet(w http.ResponseWriter, r *http.Request) {
	h.geneDetails(w, r, r.PathValue("geneID"))
}

func (h *Handler) handleGeneDetailsPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GeneID string `json:"gene_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GeneID == "" {
		writeDetail(w, http.StatusBadRequest, "gene_id is required")
		return
	}
	h.geneDetails(w, r, body.GeneID)
}

func (h *Handler) geneDetails(w http.ResponseWriter, r *http.Request, geneID string) {
	result, err := h.genes.GeneDetails(r.Context(), geneID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sequenceParams struct {
	Chrom    string `json:"chrom"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	GenomeID string `json:"genome_id"`
}

func (h *Handler) handleSequenceGet(w http.ResponseWriter, r *http.Request) {
	params, err := sequenceParamsFromQuery(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sequence(w, r, params)
}

func (h *Handler) handleSequencePost(w http.ResponseWriter, r *http.Request) {
	var params sequenceParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := params.validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sequence(w, r, params)
}

func (h *Handler) sequence(w http.ResponseWriter, r *http.Request, params sequenceParams) {
	result, err := h.sequences.FetchSequence(r.Context(), params.Chrom, params.Start, params.End, params.GenomeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func sequenceParamsFromQuery(r *http.Request) (sequenceParams, error) {
	q := r.URL.Query()
	params := sequenceParams{Chrom: q.Get("chrom"), GenomeID: q.Get("genome_id")}
	var err error
	if params.Start, err = strconv.ParseInt(q.Get("start"), 10, 64); err != nil {
		return params, errors.New("start must be an integer")
	}
	if params.End, err = strconv.ParseInt(q.Get("end"), 10, 64); err != nil {
		return params, errors.New("end must be an integer")
	}
	return params, params.validate()
}

func (p sequenceParams) validate() error {
	switch {
	case p.Chrom == "":
		return errors.New("chrom is required")
	case p.GenomeID == "":
		return errors.New("genome_id is required")
	case p.Start <= 0 || p.End <= 0:
		return errors.New("start and end must be positive")
	}
	return nil
}

func (h *Handler) handleClinVar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chrom := q.Get("chrom")
	genomeID := q.Get("genome_id")
	start, startErr := strconv.ParseInt(q.Get("start"), 10, 64)
	end, endErr := strconv.ParseInt(q.Get("end"), 10, 64)
	if chrom == "" || genomeID == "" || startErr != nil || endErr != nil {
		writeDetail(w, http.StatusBadRequest, "chrom, start, end, and genome_id are required")
		return
	}

	variants, err := h.genes.ClinVarVariants(r.Context(), chrom, genome.GeneBounds{Min: start, Max: end}, genomeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req inference.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prediction, err := h.analyzer.Analyze(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Analysis results are unique computations; nothing downstream may cache
	// them.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, prediction)
}

func (h *Handler) handleProxyUCSC(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeDetail(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	result, err := h.sequences.Proxy(r.Context(), endpoint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// The edge may cache genome-registry responses; they change rarely.
	w.Header().Set("Cache-Control", "public, s-maxage=3600, stale-while-revalidate=86400")
	writeProxyResult(w, result)
}

func (h *Handler) handleProxyNCBI(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeDetail(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	result, err := h.genes.Proxy(r.Context(), endpoint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeProxyResult(w, result)
}

func writeProxyResult(w http.ResponseWriter, result genome.ProxyResult) {
	if len(result.JSON) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.JSON)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.Text))
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats(r.Context()))
}

func (h *Handler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.logger.Error("cache clear failed", slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

func (h *Handler) handleCacheClearPattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.PathValue("pattern")
	if err := h.store.ClearPrefix(r.Context(), pattern); err != nil {
		h.logger.Error("cache pattern clear failed", slog.String("pattern", pattern), slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "failed to clear cache pattern")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache pattern cleared", "pattern": pattern})
}

func (h *Handler) handleCacheConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ConnectionInfo(r.Context()))
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter *upstream.Tag
	tag := upstream.Tag{
		Category:   q.Get("category"),
		Genome:     q.Get("genome"),
		Chromosome: q.Get("chromosome"),
	}
	tag.Start, _ = strconv.ParseInt(q.Get("start"), 10, 64)
	tag.End, _ = strconv.ParseInt(q.Get("end"), 10, 64)
	if !tag.IsZero() {
		filter = &tag
	}

	service := q.Get("service")
	statuses := make(map[string]upstream.Status, len(h.queues))
	for name, queue := range h.queues {
		if service != "" && service != name {
			continue
		}
		statuses[name] = queue.Status(filter)
	}
	if service != "" && len(statuses) == 0 {
		writeDetail(w, http.StatusNotFound, "unknown service "+service)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	cleared := make([]string, 0, len(h.queues))
	for name, queue := range h.queues {
		if service != "" && service != name {
			continue
		}
		queue.ClearRateLimitState()
		cleared = append(cleared, name)
	}
	if service != "" && len(cleared) == 0 {
		writeDetail(w, http.StatusNotFound, "unknown service "+service)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rate limit state cleared", "services": cleared})
}

// writeError maps the error taxonomy onto HTTP statuses: fatal request
// errors keep their upstream status, exhausted transients become 502 with
// the failing service named, inference backend failures pass through.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var backendErr *inference.BackendError
	if errors.As(err, &backendErr) {
		writeDetail(w, http.StatusBadGateway, backendErr.Error())
		return
	}
	if errors.Is(err, inference.ErrNotConfigured) {
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, inference.ErrInvalidRequest) {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, inference.ErrTransport) {
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		if errors.Is(err, upstream.ErrUnavailable) || ue.Transient() {
			writeDetail(w, http.StatusBadGateway, ue.Service+" upstream unavailable: "+ue.Error())
			return
		}
		status := ue.Status
		if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeDetail(w, status, ue.Error())
		return
	}

	h.logger.Error("request failed", slog.Any("error", err))
	writeDetail(w, http.StatusInternalServerError, "internal server error")
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
