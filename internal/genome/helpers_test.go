package genome

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeChromosome(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "chr1", want: "chr1"},
		{in: "17", want: "chr17"},
		{in: "X", want: "chrX"},
		{in: "MT", want: "chrM"},
		{in: "chrMT", want: "chrM"},
		{in: "chr1.2", want: "chr1"},
		{in: "chr19_GL949746v1_alt", wantErr: true},
		{in: "banana", wantErr: true},
		{in: "chr99zz", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeChromosome(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestGroupDigits(t *testing.T) {
	require.Equal(t, "0", groupDigits("000"))
	require.Equal(t, "7", groupDigits("7"))
	require.Equal(t, "999", groupDigits("999"))
	require.Equal(t, "1,000", groupDigits("1000"))
	require.Equal(t, "43,044,300", groupDigits("0043044300"))
}

func TestCapitalizeWords(t *testing.T) {
	require.Equal(t, "Single Nucleotide Variant", capitalizeWords("single nucleotide variant"))
	require.Equal(t, "Pathogenic", capitalizeWords("PATHOGENIC"))
	require.Equal(t, "Likely  Benign", capitalizeWords("likely  benign"))
}

func TestParseGeneSearchRejectsShortPayload(t *testing.T) {
	_, err := parseGeneSearch([]byte(`[1, []]`), "BRCA1")
	require.Error(t, err)
}
