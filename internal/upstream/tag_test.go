package upstream

import "testing"

func TestTagMatches(t *testing.T) {
	op := Tag{Category: "sequence", Genome: "hg38", Chromosome: "chr17", Start: 43044295, End: 43125364}

	cases := []struct {
		name   string
		filter Tag
		want   bool
	}{
		{"zero filter matches everything", Tag{}, true},
		{"category only", Tag{Category: "sequence"}, true},
		{"category mismatch", Tag{Category: "clinvar"}, false},
		{"genome and chromosome", Tag{Genome: "hg38", Chromosome: "chr17"}, true},
		{"chromosome mismatch", Tag{Genome: "hg38", Chromosome: "chr1"}, false},
		{"exact range", Tag{Start: 43044295, End: 43125364}, true},
		{"range mismatch", Tag{Start: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := op.Matches(tc.filter); got != tc.want {
				t.Fatalf("Matches(%+v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestTagIsZero(t *testing.T) {
	if !(Tag{}).IsZero() {
		t.Fatal("empty tag should be zero")
	}
	if (Tag{Category: "genomes"}).IsZero() {
		t.Fatal("tag with a category is not zero")
	}
}
