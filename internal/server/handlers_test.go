package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/config"
	"github.com/shivazshu/evo2-vep/internal/genome"
	"github.com/shivazshu/evo2-vep/internal/inference"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

type stubSequences struct {
	genomes     func() (genome.GenomesResult, error)
	chromosomes func(string) (genome.ChromosomesResult, error)
	sequence    func(string, int64, int64, string) (genome.SequenceResult, error)
	proxy       func(string) (genome.ProxyResult, error)
}

func (s *stubSequences) ListGenomes(context.Context) (genome.GenomesResult, error) {
	return s.genomes()
}

func (s *stubSequences) ListChromosomes(_ context.Context, genomeID string) (genome.ChromosomesResult, error) {
	return s.chromosomes(genomeID)
}

func (s *stubSequences) FetchSequence(_ context.Context, chrom string, start, end int64, genomeID string) (genome.SequenceResult, error) {
	return s.sequence(chrom, start, end, genomeID)
}

func (s *stubSequences) Proxy(_ context.Context, endpoint string) (genome.ProxyResult, error) {
	return s.proxy(endpoint)
}

type stubGenes struct {
	search  func(string, string) (genome.GeneSearchResult, error)
	details func(string) (genome.GeneDetailsResult, error)
	clinvar func(string, genome.GeneBounds, string) ([]genome.ClinVarVariant, error)
	proxy   func(string) (genome.ProxyResult, error)
}

func (s *stubGenes) SearchGenes(_ context.Context, query, genomeID string) (genome.GeneSearchResult, error) {
	return s.search(query, genomeID)
}

func (s *stubGenes) GeneDetails(_ context.Context, geneID string) (genome.GeneDetailsResult, error) {
	return s.details(geneID)
}

func (s *stubGenes) ClinVarVariants(_ context.Context, chrom string, bounds genome.GeneBounds, genomeID string) ([]genome.ClinVarVariant, error) {
	return s.clinvar(chrom, bounds, genomeID)
}

func (s *stubGenes) Proxy(_ context.Context, endpoint string) (genome.ProxyResult, error) {
	return s.proxy(endpoint)
}

type stubAnalyzer struct {
	analyze func(inference.Request) (inference.Prediction, error)
}

func (s *stubAnalyzer) Analyze(_ context.Context, req inference.Request) (inference.Prediction, error) {
	return s.analyze(req)
}

func newTestHandler(t *testing.T, sequences SequenceAPI, genes GeneAPI, analyzer Analyzer) http.Handler {
	t.Helper()
	store := cache.NewTiered(cache.NewMemory(), nil, nil, nil)

	exec := upstream.NewExecutor("ucsc", upstream.Policy{MaxAttempts: 1}, nil, nil, nil)
	ucscQueue := upstream.NewQueue("ucsc", 0, exec, nil, nil, nil)
	t.Cleanup(ucscQueue.Close)
	ncbiExec := upstream.NewExecutor("ncbi", upstream.Policy{MaxAttempts: 1}, nil, nil, nil)
	ncbiQueue := upstream.NewQueue("ncbi", 0, ncbiExec, nil, nil, nil)
	t.Cleanup(ncbiQueue.Close)

	queues := map[string]*upstream.Queue{"ucsc": ucscQueue, "ncbi": ncbiQueue}
	return NewHandler(sequences, genes, analyzer, store, queues, nil, nil).Router()
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestGenomesPassThrough(t *testing.T) {
	sequences := &stubSequences{
		genomes: func() (genome.GenomesResult, error) {
			return genome.GenomesResult{Genomes: genome.Catalog{
				"Human": {{ID: "hg38", Name: "GRCh38"}},
			}}, nil
		},
	}
	h := newTestHandler(t, sequences, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/genomes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body genome.GenomesResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "hg38", body.Genomes["Human"][0].ID)
}

func TestChromosomesUsesPathValue(t *testing.T) {
	var askedFor string
	sequences := &stubSequences{
		chromosomes: func(genomeID string) (genome.ChromosomesResult, error) {
			askedFor = genomeID
			return genome.ChromosomesResult{}, nil
		},
	}
	h := newTestHandler(t, sequences, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/genomes/mm39/chromosomes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "mm39", askedFor)
}

func TestGeneSearchRejectsMissingParams(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/genes/search?query=BRCA1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/genes/search", strings.NewReader(`{"query": ""}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGeneSearchPostBody(t *testing.T) {
	genes := &stubGenes{
		search: func(query, genomeID string) (genome.GeneSearchResult, error) {
			return genome.GeneSearchResult{Query: query, Genome: genomeID}, nil
		},
	}
	h := newTestHandler(t, &stubSequences{}, genes, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/genes/search",
		strings.NewReader(`{"query": "BRCA1", "genome": "hg38"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body genome.GeneSearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "BRCA1", body.Query)
	require.Equal(t, "hg38", body.Genome)
}

func TestSequenceQueryParsing(t *testing.T) {
	var got struct {
		chrom, genomeID string
		start, end      int64
	}
	sequences := &stubSequences{
		sequence: func(chrom string, start, end int64, genomeID string) (genome.SequenceResult, error) {
			got.chrom, got.start, got.end, got.genomeID = chrom, start, end, genomeID
			return genome.SequenceResult{Sequence: "ACGT"}, nil
		},
	}
	h := newTestHandler(t, sequences, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/genes/sequence?chrom=chr17&start=100&end=200&genome_id=hg38", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "chr17", got.chrom)
	require.EqualValues(t, 100, got.start)
	require.EqualValues(t, 200, got.end)
	require.Equal(t, "hg38", got.genomeID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/genes/sequence?chrom=chr17&start=abc&end=200&genome_id=hg38", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClinVarQueryShapesBounds(t *testing.T) {
	var gotBounds genome.GeneBounds
	genes := &stubGenes{
		clinvar: func(chrom string, bounds genome.GeneBounds, genomeID string) ([]genome.ClinVarVariant, error) {
			gotBounds = bounds
			return []genome.ClinVarVariant{}, nil
		},
	}
	h := newTestHandler(t, &stubSequences{}, genes, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/clinvar/variants?chrom=chr17&start=100&end=200&genome_id=hg38", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, genome.GeneBounds{Min: 100, Max: 200}, gotBounds)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "fatal keeps upstream status",
			err:        upstream.StatusError("ncbi", http.StatusNotFound, nil, "no such gene"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "exhausted transient becomes bad gateway",
			err:        errors.Join(upstream.ErrUnavailable, upstream.StatusError("ucsc", http.StatusServiceUnavailable, nil, "down")),
			wantStatus: http.StatusBadGateway,
			wantDetail: "ucsc",
		},
		{
			name:       "unclassified becomes internal error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sequences := &stubSequences{
				genomes: func() (genome.GenomesResult, error) { return genome.GenomesResult{}, tc.err },
			}
			h := newTestHandler(t, sequences, &stubGenes{}, &stubAnalyzer{})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/genomes", nil))

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantDetail != "" {
				require.Contains(t, rec.Body.String(), tc.wantDetail)
			}
		})
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	analyzer := &stubAnalyzer{
		analyze: func(req inference.Request) (inference.Prediction, error) {
			require.EqualValues(t, 43044300, req.Position)
			return inference.Prediction{Delta: -0.5, Prediction: "Likely pathogenic", Confidence: 0.9}, nil
		},
	}
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, analyzer)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze",
		strings.NewReader(`{"variant_pos": 43044300, "alternative": "T", "genome": "hg38", "chromosome": "chr17"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body inference.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Likely pathogenic", body.Prediction)
}

func TestAnalyzeErrorAttribution(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"backend failure", &inference.BackendError{Status: 422, Body: "bad strand"}, http.StatusBadGateway, "inference backend"},
		{"transport failure", inference.ErrTransport, http.StatusBadGateway, "transport"},
		{"invalid request", inference.ErrInvalidRequest, http.StatusBadRequest, "invalid"},
		{"not configured", inference.ErrNotConfigured, http.StatusServiceUnavailable, "not configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analyzer := &stubAnalyzer{
				analyze: func(inference.Request) (inference.Prediction, error) {
					return inference.Prediction{}, tc.err
				},
			}
			h := newTestHandler(t, &stubSequences{}, &stubGenes{}, analyzer)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{}`)))

			require.Equal(t, tc.wantStatus, rec.Code)
			require.Contains(t, rec.Body.String(), tc.wantDetail)
		})
	}
}

func TestProxyEndpoints(t *testing.T) {
	sequences := &stubSequences{
		proxy: func(endpoint string) (genome.ProxyResult, error) {
			require.Equal(t, "https://api.genome.ucsc.edu/list/ucscGenomes", endpoint)
			return genome.ProxyResult{JSON: json.RawMessage(`{"ucscGenomes":{}}`)}, nil
		},
	}
	genes := &stubGenes{
		proxy: func(endpoint string) (genome.ProxyResult, error) {
			return genome.ProxyResult{Text: "plain payload"}, nil
		},
	}
	h := newTestHandler(t, sequences, genes, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/proxy/ucsc?endpoint="+url.QueryEscape("https://api.genome.ucsc.edu/list/ucscGenomes"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `{"ucscGenomes":{}}`, rec.Body.String(), "raw payload must pass through unmodified")
	require.Contains(t, rec.Header().Get("Cache-Control"), "s-maxage=3600")
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/proxy/ncbi?endpoint="+url.QueryEscape("https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "plain payload", rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/ncbi", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyRejectionKeepsFatalStatus(t *testing.T) {
	genes := &stubGenes{
		proxy: func(string) (genome.ProxyResult, error) {
			return genome.ProxyResult{}, upstream.FatalError("ncbi", errors.New("host not allowed: evil.example.com"))
		},
	}
	h := newTestHandler(t, &stubSequences{}, genes, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/proxy/ncbi?endpoint="+url.QueryEscape("https://evil.example.com/x"), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "host not allowed")
}

func TestQueueStatusEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]upstream.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "ucsc")
	require.Contains(t, body, "ncbi")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/status?service=ucsc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "ucsc")
	require.NotContains(t, body, "ncbi")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/status?service=nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueResetEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queue/reset-rate-limit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rate limit state cleared")
}

func TestCacheAdminEndpoints(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "memory")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "cache cleared")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/clear/pattern/sequence", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sequence")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/connection", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var conn map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conn))
	require.Equal(t, "memory", conn["backend"])
	require.Equal(t, true, conn["connected"])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/genomes", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	cfg.Server.Listen.Port = 0
	return cfg
}

func TestServerLifecycle(t *testing.T) {
	h := newTestHandler(t, &stubSequences{}, &stubGenes{}, &stubAnalyzer{})

	cfg := testConfig()
	srv, err := New(cfg, nil, h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerRequiresHandler(t *testing.T) {
	_, err := New(testConfig(), nil, nil)
	require.Error(t, err)
}
