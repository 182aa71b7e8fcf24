package genome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/config"
	"github.com/shivazshu/evo2-vep/internal/metrics"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

// ServiceNCBI names the gene/taxonomy registry in errors, metrics, and queue
// status.
const ServiceNCBI = "ncbi"

const (
	geneSearchFields = "chromosomes,Symbol,map_location,type_of_gene,Aliases,Description"
	geneExtraFields  = "chromosomes,Symbol,map_location,type_of_gene,GenomicInfo,GeneID,Aliases,Description"
	clinvarRetMax    = 20
)

// The GenBank flat record encodes the placement as e.g.
// "Annotation: NC_000017.11 (43044295..43125364, complement)".
var annotationPattern = regexp.MustCompile(`Annotation:.*?\((.*?)\)`)

// NCBI is the gateway to the gene registry: symbol search, per-gene details,
// and the ClinVar variant listing.
type NCBI struct {
	pipe          *pipeline
	client        *resty.Client
	baseURL       string
	searchBaseURL string
	ttls          config.CacheTTLConfig
	// pause between the per-variant detail requests inside one ClinVar
	// operation; zeroed in tests.
	detailPause time.Duration
}

func NewNCBI(cfg config.UpstreamConfig, ttls config.CacheTTLConfig, store *cache.Tiered, queue *upstream.Queue, logger *slog.Logger, rec *metrics.Recorder) *NCBI {
	if logger == nil {
		logger = slog.Default()
	}
	return &NCBI{
		pipe: &pipeline{
			service: ServiceNCBI,
			cache:   store,
			queue:   queue,
			logger:  logger.With(slog.String("gateway", ServiceNCBI)),
			metrics: rec,
		},
		client:        resty.New().SetTimeout(cfg.Timeout()),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		searchBaseURL: strings.TrimRight(cfg.SearchBaseURL, "/"),
		ttls:          ttls,
		detailPause:   100 * time.Millisecond,
	}
}

func (g *NCBI) Close() error {
	return g.client.Close()
}

// SearchGenes looks a symbol prefix up in the clinical tables index. Exact
// symbol matches sort first.
func (g *NCBI) SearchGenes(ctx context.Context, query, genomeID string) (GeneSearchResult, error) {
	key := cache.Key("gene_search", query, genomeID)
	tag := upstream.Tag{Category: "gene_search", Genome: genomeID}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("gene_search"), tag,
		func(ctx context.Context) (GeneSearchResult, error) {
			res, err := g.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"terms":   query,
					"df":      geneSearchFields,
					"ef":      geneExtraFields,
					"maxList": "25",
				}).
				Get(g.searchBaseURL + "/api/ncbi_genes/v3/search")
			if err != nil {
				return GeneSearchResult{}, upstream.NetworkError(ServiceNCBI, err)
			}
			if !res.IsSuccess() {
				return GeneSearchResult{}, upstream.StatusError(ServiceNCBI, res.StatusCode(), res.Header(), res.String())
			}

			genes, err := parseGeneSearch(res.Bytes(), query)
			if err != nil {
				return GeneSearchResult{}, err
			}
			return GeneSearchResult{Query: query, Genome: genomeID, Results: genes}, nil
		},
		nil)
}

// parseGeneSearch decodes the registry's positional-array response:
// [count, codes, extraFields, displayRows].
func parseGeneSearch(body []byte, query string) ([]Gene, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding gene search response: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("gene search response has %d segments, want 4", len(raw))
	}

	var count int
	if err := json.Unmarshal(raw[0], &count); err != nil {
		return nil, fmt.Errorf("decoding gene search count: %w", err)
	}
	if count <= 0 {
		return []Gene{}, nil
	}

	var extra struct {
		GeneID      []string   `json:"GeneID"`
		Description [][]string `json:"Description"`
	}
	if err := json.Unmarshal(raw[2], &extra); err != nil {
		return nil, fmt.Errorf("decoding gene search fields: %w", err)
	}
	var display [][]string
	if err := json.Unmarshal(raw[3], &display); err != nil {
		return nil, fmt.Errorf("decoding gene search rows: %w", err)
	}

	limit := count
	if limit > 25 {
		limit = 25
	}
	if limit > len(display) {
		limit = len(display)
	}

	genes := make([]Gene, 0, limit)
	for i := 0; i < limit; i++ {
		row := display[i]
		if len(row) < 2 {
			continue
		}
		symbol := strings.TrimSpace(row[1])
		var geneID string
		if i < len(extra.GeneID) {
			geneID = strings.TrimSpace(extra.GeneID[i])
		}
		if symbol == "" || geneID == "" {
			continue
		}

		var chrom string
		if len(row) > 2 {
			chrom = normalizeSearchChromosome(row[2])
		}
		if chrom == "" {
			chrom = "Unknown"
		}
		var name string
		if len(row) > 3 {
			name = strings.TrimSpace(row[3])
		}
		if name == "" {
			name = symbol
		}
		var description string
		if i < len(extra.Description) && len(extra.Description[i]) > 0 {
			description = extra.Description[i][0]
		}
		if description == "" {
			description = name
		}

		genes = append(genes, Gene{
			Symbol:      symbol,
			Name:        name,
			Chrom:       chrom,
			Description: description,
			GeneID:      geneID,
		})
	}

	sort.SliceStable(genes, func(i, j int) bool {
		return strings.EqualFold(genes[i].Symbol, query) && !strings.EqualFold(genes[j].Symbol, query)
	})
	return genes, nil
}

var searchChromPattern = regexp.MustCompile(`^([0-9XYMTxy]+)`)

func normalizeSearchChromosome(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(loc), "chr") {
		loc = loc[3:]
	}
	m := searchChromPattern.FindStringSubmatch(loc)
	if m == nil {
		return ""
	}
	return "chr" + strings.ToUpper(m[1])
}

type esummaryEnvelope struct {
	Result map[string]json.RawMessage `json:"result"`
}

// GeneDetails fetches the registry record for one gene and derives its
// genomic bounds and a display-sized initial range. Genes without a genomic
// placement yield an all-nil result, which is still cached.
func (g *NCBI) GeneDetails(ctx context.Context, geneID string) (GeneDetailsResult, error) {
	key := cache.Key("gene_details", geneID)
	tag := upstream.Tag{Category: "gene_details"}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("gene_details"), tag,
		func(ctx context.Context) (GeneDetailsResult, error) {
			var envelope esummaryEnvelope
			res, err := g.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"db":      "gene",
					"id":      geneID,
					"retmode": "json",
				}).
				SetResult(&envelope).
				Get(g.baseURL + "/entrez/eutils/esummary.fcgi")
			if err != nil {
				return GeneDetailsResult{}, upstream.NetworkError(ServiceNCBI, err)
			}
			if !res.IsSuccess() {
				return GeneDetailsResult{}, upstream.StatusError(ServiceNCBI, res.StatusCode(), res.Header(), res.String())
			}

			raw, ok := envelope.Result[geneID]
			if !ok {
				return GeneDetailsResult{}, nil
			}
			var summary GeneSummary
			if err := json.Unmarshal(raw, &summary); err != nil {
				return GeneDetailsResult{}, fmt.Errorf("decoding gene summary: %w", err)
			}
			if len(summary.GenomicInfo) == 0 {
				return GeneDetailsResult{}, nil
			}

			// Strand comes from the GenBank flat record; its absence is not
			// an error.
			summary.GenomicInfo[0].Strand = g.fetchStrand(ctx, geneID)

			info := summary.GenomicInfo[0]
			bounds := GeneBounds{Min: info.ChrStart, Max: info.ChrStop}
			if bounds.Min > bounds.Max {
				bounds.Min, bounds.Max = bounds.Max, bounds.Min
			}
			initial := Range{Start: bounds.Min, End: bounds.Max}
			if bounds.Max-bounds.Min > 10000 {
				initial.End = initial.Start + 9999
			}

			return GeneDetailsResult{
				GeneDetails:  &summary,
				GeneBounds:   &bounds,
				InitialRange: &initial,
			}, nil
		},
		nil)
}

func (g *NCBI) fetchStrand(ctx context.Context, geneID string) string {
	res, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"db":      "gene",
			"id":      geneID,
			"rettype": "gb",
			"retmode": "text",
		}).
		Get(g.baseURL + "/entrez/eutils/efetch.fcgi")
	if err != nil || !res.IsSuccess() {
		g.pipe.logger.Debug("strand lookup skipped", slog.String("gene_id", geneID))
		return ""
	}
	m := annotationPattern.FindStringSubmatch(res.String())
	if m == nil {
		return ""
	}
	if strings.Contains(m[1], "complement") {
		return "-"
	}
	return "+"
}

type esearchEnvelope struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type clinvarSummary struct {
	Title                  string `json:"title"`
	ObjType                string `json:"obj_type"`
	GeneSort               string `json:"gene_sort"`
	LocationSort           string `json:"location_sort"`
	GermlineClassification struct {
		Description string `json:"description"`
	} `json:"germline_classification"`
}

// ClinVarVariants lists catalogued variants overlapping a gene's extent.
// Three progressively wider searches are tried: the exact range, the range
// padded by 10kb, and finally the whole chromosome.
func (g *NCBI) ClinVarVariants(ctx context.Context, chrom string, bounds GeneBounds, genomeID string) ([]ClinVarVariant, error) {
	chromosome := chrom
	if strings.HasPrefix(strings.ToLower(chromosome), "chr") {
		chromosome = chromosome[3:]
	}
	positionField := "chrpos37"
	if genomeID == "hg38" {
		positionField = "chrpos38"
	}

	paddedMin := bounds.Min - 10000
	if paddedMin < 1 {
		paddedMin = 1
	}
	strategies := []string{
		fmt.Sprintf("%s[chromosome] AND %d:%d[%s]", chromosome, bounds.Min, bounds.Max, positionField),
		fmt.Sprintf("%s[chromosome] AND %d:%d[%s]", chromosome, paddedMin, bounds.Max+10000, positionField),
		fmt.Sprintf("%s[chromosome]", chromosome),
	}

	key := cache.Key("clinvar", chromosome, fmt.Sprintf("%d-%d", bounds.Min, bounds.Max), genomeID)
	tag := upstream.Tag{Category: "clinvar", Genome: genomeID, Chromosome: chromosome, Start: bounds.Min, End: bounds.Max}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("clinvar"), tag,
		func(ctx context.Context) ([]ClinVarVariant, error) {
			var lastErr error
			for idx, term := range strategies {
				ids, err := g.searchClinVar(ctx, term)
				if err != nil {
					lastErr = err
					continue
				}
				if len(ids) == 0 {
					continue
				}
				variants, err := g.collectVariants(ctx, ids, chromosome, bounds, idx > 0)
				if err != nil {
					lastErr = err
					continue
				}
				if len(variants) > 0 {
					return variants, nil
				}
			}
			if lastErr != nil {
				return nil, lastErr
			}
			return []ClinVarVariant{}, nil
		},
		nil)
}

func (g *NCBI) searchClinVar(ctx context.Context, term string) ([]string, error) {
	var envelope esearchEnvelope
	res, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"db":      "clinvar",
			"term":    term,
			"retmode": "json",
			"retmax":  strconv.Itoa(clinvarRetMax),
			"sort":    "relevance",
		}).
		SetResult(&envelope).
		Get(g.baseURL + "/entrez/eutils/esearch.fcgi")
	if err != nil {
		return nil, upstream.NetworkError(ServiceNCBI, err)
	}
	if !res.IsSuccess() {
		return nil, upstream.StatusError(ServiceNCBI, res.StatusCode(), res.Header(), res.String())
	}
	return envelope.ESearchResult.IDList, nil
}

func (g *NCBI) collectVariants(ctx context.Context, ids []string, chromosome string, bounds GeneBounds, acceptOutOfRange bool) ([]ClinVarVariant, error) {
	if len(ids) > clinvarRetMax {
		ids = ids[:clinvarRetMax]
	}

	var variants []ClinVarVariant
	for i, id := range ids {
		if i > 0 && g.detailPause > 0 {
			select {
			case <-time.After(g.detailPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var envelope esummaryEnvelope
		res, err := g.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"db":      "clinvar",
				"id":      id,
				"retmode": "json",
			}).
			SetResult(&envelope).
			Get(g.baseURL + "/entrez/eutils/esummary.fcgi")
		if err != nil || !res.IsSuccess() {
			g.pipe.logger.Warn("skipping clinvar variant", slog.String("variant_id", id))
			continue
		}
		raw, ok := envelope.Result[id]
		if !ok {
			continue
		}
		var summary clinvarSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			g.pipe.logger.Warn("skipping undecodable clinvar variant", slog.String("variant_id", id))
			continue
		}

		position, _ := strconv.ParseInt(summary.LocationSort, 10, 64)
		if !acceptOutOfRange && (position < bounds.Min || position > bounds.Max) {
			continue
		}

		location := "Unknown"
		if summary.LocationSort != "" && isDigits(summary.LocationSort) {
			location = groupDigits(summary.LocationSort)
		}
		title := summary.Title
		if title == "" {
			title = "Unknown"
		}
		variants = append(variants, ClinVarVariant{
			ClinVarID:      id,
			Title:          title,
			VariationType:  capitalizeWords(orUnknown(summary.ObjType)),
			Classification: capitalizeWords(orUnknown(summary.GermlineClassification.Description)),
			GeneSort:       summary.GeneSort,
			Chromosome:     chromosome,
			Location:       location,
			IsAnalyzing:    false,
		})
	}
	return variants, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func capitalizeWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// groupDigits inserts thousands separators into an all-digit string.
func groupDigits(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
