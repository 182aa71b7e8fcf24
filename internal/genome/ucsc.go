package genome

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"resty.dev/v3"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/config"
	"github.com/shivazshu/evo2-vep/internal/metrics"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

// ServiceUCSC names the genome-sequence registry in errors, metrics, and
// queue status.
const ServiceUCSC = "ucsc"

var chromosomePattern = regexp.MustCompile(`(?i)^chr([0-9]+|X|Y|M|Un|[0-9]+_alt|[0-9]+_random|[0-9]+_fix)$`)

// UCSC is the gateway to the genome-sequence registry: assembly listings,
// chromosome listings, and raw sequence ranges.
type UCSC struct {
	pipe     *pipeline
	client   *resty.Client
	baseURL  string
	ttls     config.CacheTTLConfig
	fallback Fallback
}

func NewUCSC(cfg config.UpstreamConfig, ttls config.CacheTTLConfig, store *cache.Tiered, queue *upstream.Queue, fb Fallback, logger *slog.Logger, rec *metrics.Recorder) *UCSC {
	if logger == nil {
		logger = slog.Default()
	}
	return &UCSC{
		pipe: &pipeline{
			service: ServiceUCSC,
			cache:   store,
			queue:   queue,
			logger:  logger.With(slog.String("gateway", ServiceUCSC)),
			metrics: rec,
		},
		client:   resty.New().SetTimeout(cfg.Timeout()),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		ttls:     ttls,
		fallback: fb,
	}
}

func (g *UCSC) Close() error {
	return g.client.Close()
}

type ucscGenomeInfo struct {
	Organism    string `json:"organism"`
	Description string `json:"description"`
	SourceName  string `json:"sourceName"`
	Active      int    `json:"active"`
}

type ucscGenomesResponse struct {
	UCSCGenomes map[string]ucscGenomeInfo `json:"ucscGenomes"`
}

type ucscChromosomesResponse struct {
	Chromosomes map[string]int64 `json:"chromosomes"`
}

type ucscSequenceResponse struct {
	DNA   string `json:"dna"`
	Error string `json:"error"`
}

// ListGenomes returns every assembly the registry knows, grouped by organism.
func (g *UCSC) ListGenomes(ctx context.Context) (GenomesResult, error) {
	key := cache.Key("genomes")
	tag := upstream.Tag{Category: "genomes"}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("genomes"), tag,
		func(ctx context.Context) (GenomesResult, error) {
			var body ucscGenomesResponse
			res, err := g.client.R().
				SetContext(ctx).
				SetResult(&body).
				Get(g.baseURL + "/list/ucscGenomes")
			if err != nil {
				return GenomesResult{}, upstream.NetworkError(ServiceUCSC, err)
			}
			if !res.IsSuccess() {
				return GenomesResult{}, upstream.StatusError(ServiceUCSC, res.StatusCode(), res.Header(), res.String())
			}
			if len(body.UCSCGenomes) == 0 {
				return GenomesResult{}, fmt.Errorf("response missing ucscGenomes")
			}

			catalog := Catalog{}
			for id, info := range body.UCSCGenomes {
				organism := info.Organism
				if organism == "" {
					organism = "Other"
				}
				name := info.Description
				if name == "" {
					name = id
				}
				source := info.SourceName
				if source == "" {
					source = id
				}
				catalog[organism] = append(catalog[organism], Assembly{
					ID:         id,
					Name:       name,
					Active:     info.Active != 0,
					SourceName: source,
				})
			}
			for _, assemblies := range catalog {
				sort.Slice(assemblies, func(i, j int) bool { return assemblies[i].ID < assemblies[j].ID })
			}
			return GenomesResult{Genomes: catalog}, nil
		},
		func() (GenomesResult, bool) {
			if g.fallback == nil {
				return GenomesResult{}, false
			}
			return g.fallback.Genomes()
		})
}

// ListChromosomes returns the primary chromosomes of one assembly, special
// contigs filtered out, numeric chromosomes first.
func (g *UCSC) ListChromosomes(ctx context.Context, genomeID string) (ChromosomesResult, error) {
	key := cache.Key("chromosomes", genomeID)
	tag := upstream.Tag{Category: "chromosomes", Genome: genomeID}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("chromosomes"), tag,
		func(ctx context.Context) (ChromosomesResult, error) {
			var body ucscChromosomesResponse
			res, err := g.client.R().
				SetContext(ctx).
				SetQueryParam("genome", genomeID).
				SetResult(&body).
				Get(g.baseURL + "/list/chromosomes")
			if err != nil {
				return ChromosomesResult{}, upstream.NetworkError(ServiceUCSC, err)
			}
			if !res.IsSuccess() {
				return ChromosomesResult{}, upstream.StatusError(ServiceUCSC, res.StatusCode(), res.Header(), res.String())
			}
			if len(body.Chromosomes) == 0 {
				return ChromosomesResult{}, fmt.Errorf("response missing chromosomes")
			}

			chromosomes := make([]Chromosome, 0, len(body.Chromosomes))
			for name, size := range body.Chromosomes {
				if strings.Contains(name, "_") || strings.Contains(name, "Un") || strings.Contains(name, "random") {
					continue
				}
				if size <= 0 {
					continue
				}
				chromosomes = append(chromosomes, Chromosome{Name: name, Size: size})
			}
			sortChromosomes(chromosomes)
			return ChromosomesResult{Chromosomes: chromosomes}, nil
		},
		func() (ChromosomesResult, bool) {
			if g.fallback == nil {
				return ChromosomesResult{}, false
			}
			return g.fallback.Chromosomes(genomeID)
		})
}

// FetchSequence returns the bases of a 1-based inclusive range. The registry
// speaks 0-based half-open coordinates, so start is shifted down by one on
// the wire. A malformed chromosome name fails without a network call.
func (g *UCSC) FetchSequence(ctx context.Context, chrom string, start, end int64, genomeID string) (SequenceResult, error) {
	chromosome, err := NormalizeChromosome(chrom)
	if err != nil {
		return SequenceResult{}, upstream.FatalError(ServiceUCSC, err)
	}

	key := cache.Key("sequence", chromosome, fmt.Sprintf("%d-%d", start, end), genomeID)
	tag := upstream.Tag{Category: "sequence", Genome: genomeID, Chromosome: chromosome, Start: start, End: end}
	return fetch(ctx, g.pipe, key, g.ttls.TTLFor("sequence"), tag,
		func(ctx context.Context) (SequenceResult, error) {
			var body ucscSequenceResponse
			res, err := g.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"genome": genomeID,
					"chrom":  chromosome,
					"start":  strconv.FormatInt(start-1, 10),
					"end":    strconv.FormatInt(end, 10),
				}).
				SetResult(&body).
				Get(g.baseURL + "/getData/sequence")
			if err != nil {
				return SequenceResult{}, upstream.NetworkError(ServiceUCSC, err)
			}
			if !res.IsSuccess() {
				return SequenceResult{}, upstream.StatusError(ServiceUCSC, res.StatusCode(), res.Header(), res.String())
			}

			result := SequenceResult{ActualRange: Range{Start: start, End: end}}
			switch {
			case body.Error != "":
				result.Error = body.Error
			case body.DNA == "":
				result.Error = "No DNA sequence returned"
			default:
				result.Sequence = strings.ToUpper(body.DNA)
			}
			return result, nil
		},
		nil)
}

// NormalizeChromosome maps loose chromosome spellings onto the registry's
// canonical names and rejects anything that does not look like one.
func NormalizeChromosome(chrom string) (string, error) {
	chromosome := chrom
	if !strings.HasPrefix(strings.ToLower(chromosome), "chr") {
		chromosome = "chr" + chromosome
	}
	// Accession versions like chr1.2 are meaningless here.
	chromosome, _, _ = strings.Cut(chromosome, ".")
	switch chromosome {
	case "chrMT", "chrMt", "chrmt":
		chromosome = "chrM"
	}
	if !chromosomePattern.MatchString(chromosome) {
		return "", fmt.Errorf("invalid chromosome format: %s", chromosome)
	}
	return chromosome, nil
}

// sortChromosomes orders numeric chromosomes first in ascending order, then
// the named ones alphabetically.
func sortChromosomes(chromosomes []Chromosome) {
	numberOf := func(name string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "chr"))
		return n, err == nil
	}
	sort.Slice(chromosomes, func(i, j int) bool {
		ni, iNum := numberOf(chromosomes[i].Name)
		nj, jNum := numberOf(chromosomes[j].Name)
		switch {
		case iNum && jNum:
			return ni < nj
		case iNum != jNum:
			return iNum
		default:
			return chromosomes[i].Name < chromosomes[j].Name
		}
	})
}
