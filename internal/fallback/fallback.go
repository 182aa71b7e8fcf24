// Package fallback carries hand-curated substitute datasets for the
// low-volatility reference listings. They are served only when the upstream
// is unreachable and the cache is empty, and are never written back to the
// cache so a later successful fetch always wins.
package fallback

import "github.com/shivazshu/evo2-vep/internal/genome"

// Provider implements genome.Fallback over the static datasets below.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Genomes returns the static assembly catalog.
func (*Provider) Genomes() (genome.GenomesResult, bool) {
	return genome.GenomesResult{Genomes: staticGenomes()}, true
}

// Chromosomes returns the static chromosome list. Only hg38 is curated;
// every other assembly reports not-ok so the upstream error propagates.
func (*Provider) Chromosomes(genomeID string) (genome.ChromosomesResult, bool) {
	if genomeID != "hg38" {
		return genome.ChromosomesResult{}, false
	}
	return genome.ChromosomesResult{Chromosomes: hg38Chromosomes()}, true
}

func staticGenomes() genome.Catalog {
	return genome.Catalog{
		"Human": {
			{ID: "hg38", Name: "Human Dec. 2013 (GRCh38/hg38)", SourceName: "GRCh38 Genome Reference Consortium Human Reference 38"},
			{ID: "hg19", Name: "Human Feb. 2009 (GRCh37/hg19)", SourceName: "GRCh37 Genome Reference Consortium Human Reference 37"},
		},
		"Mouse": {
			{ID: "mm39", Name: "Mouse Jun. 2020 (GRCm39/mm39)", SourceName: "GRCm39 Genome Reference Consortium Mouse Reference 39"},
			{ID: "mm10", Name: "Mouse Dec. 2011 (GRCm38/mm10)", SourceName: "GRCm38 Genome Reference Consortium Mouse Reference 38"},
		},
		"Rat": {
			{ID: "rn7", Name: "Rat Nov. 2020 (mRatBN7.2/rn7)", SourceName: "mRatBN7.2"},
		},
	}
}

// GRCh38 primary assembly lengths, numeric chromosomes first.
func hg38Chromosomes() []genome.Chromosome {
	return []genome.Chromosome{
		{Name: "chr1", Size: 248956422},
		{Name: "chr2", Size: 242193529},
		{Name: "chr3", Size: 198295559},
		{Name: "chr4", Size: 190214555},
		{Name: "chr5", Size: 181538259},
		{Name: "chr6", Size: 170805979},
		{Name: "chr7", Size: 159345973},
		{Name: "chr8", Size: 145138636},
		{Name: "chr9", Size: 138394717},
		{Name: "chr10", Size: 133797422},
		{Name: "chr11", Size: 135086622},
		{Name: "chr12", Size: 133275309},
		{Name: "chr13", Size: 114364328},
		{Name: "chr14", Size: 107043718},
		{Name: "chr15", Size: 101991189},
		{Name: "chr16", Size: 90338345},
		{Name: "chr17", Size: 83257441},
		{Name: "chr18", Size: 80373285},
		{Name: "chr19", Size: 58617616},
		{Name: "chr20", Size: 64444167},
		{Name: "chr21", Size: 46709983},
		{Name: "chr22", Size: 50818468},
		{Name: "chrM", Size: 16569},
		{Name: "chrX", Size: 156040895},
		{Name: "chrY", Size: 57227415},
	}
}
