package genome

// Assembly is one genome build as listed by the assembly registry.
type Assembly struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	SourceName string `json:"sourceName"`
}

// Catalog groups assemblies by organism name.
type Catalog map[string][]Assembly

// GenomesResult is the response shape for the assembly listing.
type GenomesResult struct {
	Genomes Catalog `json:"genomes"`
}

// Chromosome is a named sequence with its length in bases.
type Chromosome struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ChromosomesResult is the response shape for a chromosome listing.
type ChromosomesResult struct {
	Chromosomes []Chromosome `json:"chromosomes"`
}

// Gene is one hit from the gene symbol search.
type Gene struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Chrom       string `json:"chrom"`
	Description string `json:"description"`
	GeneID      string `json:"gene_id"`
}

// GeneSearchResult echoes the query alongside the matching genes.
type GeneSearchResult struct {
	Query   string `json:"query"`
	Genome  string `json:"genome"`
	Results []Gene `json:"results"`
}

// GenomicRegion is one placement of a gene on an assembly. Strand is filled
// in separately from the GenBank record when available.
type GenomicRegion struct {
	ChrLoc    string `json:"chrloc"`
	ChrAccVer string `json:"chraccver"`
	ChrStart  int64  `json:"chrstart"`
	ChrStop   int64  `json:"chrstop"`
	ExonCount int    `json:"exoncount"`
	Strand    string `json:"strand,omitempty"`
}

// GeneSummary carries the registry's per-gene record.
type GeneSummary struct {
	UID           string          `json:"uid"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Chromosome    string          `json:"chromosome"`
	MapLocation   string          `json:"maplocation"`
	OtherAliases  string          `json:"otheraliases"`
	Summary       string          `json:"summary"`
	Organism      GeneOrganism    `json:"organism"`
	GenomicInfo   []GenomicRegion `json:"genomicinfo"`
}

type GeneOrganism struct {
	ScientificName string `json:"scientificname"`
	CommonName     string `json:"commonname"`
}

// GeneBounds is the inclusive genomic extent of a gene.
type GeneBounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Range is a half-open-agnostic start/end pair as used by the callers.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// GeneDetailsResult bundles the registry record with derived coordinates.
// All three fields are nil when the gene has no genomic placement.
type GeneDetailsResult struct {
	GeneDetails  *GeneSummary `json:"geneDetails"`
	GeneBounds   *GeneBounds  `json:"geneBounds"`
	InitialRange *Range       `json:"initialRange"`
}

// SequenceResult carries the fetched bases. Error is set instead of Sequence
// when the upstream answered but could not serve the range.
type SequenceResult struct {
	Sequence    string `json:"sequence"`
	ActualRange Range  `json:"actualRange"`
	Error       string `json:"error,omitempty"`
}

// ClinVarVariant is one variant record shaped for display.
type ClinVarVariant struct {
	ClinVarID      string `json:"clinvar_id"`
	Title          string `json:"title"`
	VariationType  string `json:"variation_type"`
	Classification string `json:"classification"`
	GeneSort       string `json:"gene_sort"`
	Chromosome     string `json:"chromosome"`
	Location       string `json:"location"`
	IsAnalyzing    bool   `json:"isAnalyzing"`
}

// Fallback supplies static substitute data for the low-volatility reference
// listings. Implementations return ok=false for anything they do not carry.
type Fallback interface {
	Genomes() (GenomesResult, bool)
	Chromosomes(genomeID string) (ChromosomesResult, bool)
}
