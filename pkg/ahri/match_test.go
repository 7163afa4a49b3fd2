package ahri

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const (
	refHeader      = "AHRI Ref. #"
	seer2Header    = "AHRI CERTIFIED RATINGS - SEER2 (Appendix M1)"
	eer2Header     = "AHRI CERTIFIED RATINGS - EER2 (95F) (Appendix M1)"
	hspf2Header    = "AHRI CERTIFIED RATINGS - HSPF2 (Region IV) (Appendix M1)"
	capacityHeader = "AHRI CERTIFIED RATINGS - Cooling Capacity (95F), btuh (Appendix M1)"
	indoorHeader   = "Indoor Unit Model Number"
	outdoorHeader  = "Outdoor Unit Model Number"
	furnaceHeader  = "Furnace Model Number"
)

func writeResults(t *testing.T, rows [][]string) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Results")
	require.NoError(t, err)

	banner := sheet.AddRow()
	banner.AddCell().Value = "AHRI Directory Export"

	header := sheet.AddRow()
	for _, h := range []string{refHeader, seer2Header, eer2Header, hspf2Header, capacityHeader, indoorHeader, outdoorHeader, furnaceHeader} {
		header.AddCell().Value = h
	}

	for _, vals := range rows {
		row := sheet.AddRow()
		for _, v := range vals {
			row.AddCell().Value = v
		}
	}

	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParseResults(t *testing.T) {
	path := writeResults(t, [][]string{
		{"203384289", "15.2", "11.7", "", "30000", "CAPTA3026C3", "GSXH503010", ""},
		{"203384290", "14.3", "", "7.5", "36000", "AMST36CU1400", "GSZH503610", "GM9S960804CN"},
	})

	certs, err := ParseResults(path)
	require.NoError(t, err)
	require.Len(t, certs, 2)

	assert.Equal(t, "203384289", certs[0].AHRIRef)
	require.NotNil(t, certs[0].SEER2)
	assert.Equal(t, 15.2, *certs[0].SEER2)
	assert.Nil(t, certs[0].HSPF2)
	require.NotNil(t, certs[0].Capacity)
	assert.Equal(t, int64(30000), *certs[0].Capacity)
	require.NotNil(t, certs[0].Tonnage)
	assert.Equal(t, 2.5, *certs[0].Tonnage)

	assert.Equal(t, "GM9S960804CN", certs[1].FurnaceModel)
	assert.Equal(t, 3.0, *certs[1].Tonnage)
}

func TestMatchExactBeatsFuzzy(t *testing.T) {
	path := writeResults(t, [][]string{
		{"111111111", "15.2", "", "", "30000", "CAPTA3026C3A", "GSXH503010", ""},
		{"222222222", "15.2", "", "", "30000", "CAPTA3026C3", "GSXH503010", ""},
	})

	cert, err := MatchIndoorUnit("GSXH503010", "capta3026c3", path, 0.70)
	require.NoError(t, err)
	assert.Equal(t, "222222222", cert.AHRIRef)
}

func TestMatchFuzzyWithNormalization(t *testing.T) {
	// Directory listings carry wildcards and option suffixes that the
	// catalog model never has.
	path := writeResults(t, [][]string{
		{"333333333", "15.2", "", "", "30000", "CAPTA3026*C3+TXV", "GSXH503010", ""},
	})

	cert, err := MatchIndoorUnit("GSXH503010", "CAPTA3026C3", path, 0.70)
	require.NoError(t, err)
	assert.Equal(t, "333333333", cert.AHRIRef)
}

func TestMatchBelowThresholdIsNoMatch(t *testing.T) {
	path := writeResults(t, [][]string{
		{"444444444", "15.2", "", "", "30000", "ZZZZ9999", "GSXH503010", ""},
	})

	_, err := MatchIndoorUnit("GSXH503010", "CAPTA3026C3", path, 0.70)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchNoIndoorModelUsesOutdoorColumn(t *testing.T) {
	path := writeResults(t, [][]string{
		{"555555555", "15.2", "", "", "30000", "CAPTA3026C3", "GSZH503610", ""},
		{"666666666", "15.2", "", "", "30000", "CAPTA3626C3", "GSXH503010", ""},
	})

	cert, err := MatchIndoorUnit("GSXH503010", "", path, 0.70)
	require.NoError(t, err)
	assert.Equal(t, "666666666", cert.AHRIRef)
}

func TestMatchNoIndoorModelBelowThresholdIsNoMatch(t *testing.T) {
	// A lone unrelated row must not win by default.
	path := writeResults(t, [][]string{
		{"999999999", "15.2", "", "", "30000", "CAPTA3026C3", "ZZZZ9999", ""},
	})

	_, err := MatchIndoorUnit("GSXH503010", "", path, 0.70)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchNoIndoorModelNormalizesOutdoorListing(t *testing.T) {
	path := writeResults(t, [][]string{
		{"777777777", "15.2", "", "", "30000", "CAPTA3026C3", "GSXH5030*10+TXV", ""},
	})

	cert, err := MatchIndoorUnit("GSXH503010", "", path, 0.70)
	require.NoError(t, err)
	assert.Equal(t, "777777777", cert.AHRIRef)
}

func TestMatchEmptyResults(t *testing.T) {
	path := writeResults(t, nil)

	_, err := MatchIndoorUnit("GSXH503010", "CAPTA3026C3", path, 0.70)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("ABC", "ABC"))
	assert.Equal(t, 0.0, Similarity("ABC", "XYZ"))
	// Longest block "BCD" plus nothing else: 2*3/8.
	assert.InDelta(t, 0.75, Similarity("ABCD", "BCDE"), 1e-9)
	assert.InDelta(t, Similarity("CAPTA3026C3", "CAPTA3626C3"), Similarity("CAPTA3626C3", "CAPTA3026C3"), 1e-9)
}

func TestNormalizeListing(t *testing.T) {
	assert.Equal(t, "CAPTA3026C3", normalizeListing("CAPTA3026*C3"))
	assert.Equal(t, "CAPTA3026C3", normalizeListing("CAPTA3026C3+TXV"))
	assert.Equal(t, "CAPTA3026C3", normalizeListing("CAPTA3026*C3+TXV9A4"))
}

func TestSearchSignature(t *testing.T) {
	sig := SearchSignature("GSXH503010", "CAPTA3026C3", "AC")

	assert.Len(t, sig, 16)
	assert.Equal(t, sig, SearchSignature(" gsxh503010 ", "capta3026c3", "ac"))
	assert.NotEqual(t, sig, SearchSignature("GSXH503010", "CAPTA3026C3", "HP"))
}

func TestProgramFor(t *testing.T) {
	ac, ok := ProgramFor("AC")
	require.True(t, ok)
	assert.Equal(t, "101", ac.ID)

	hp, ok := ProgramFor("HP")
	require.True(t, ok)
	assert.Equal(t, "99", hp.ID)

	_, ok = ProgramFor("Ductless")
	assert.False(t, ok)
}

func TestCertificateFromDetails(t *testing.T) {
	cert := certificateFromDetails("203384289", [][2]string{
		{"AHRI CERTIFIED RATINGS - SEER2 (Appendix M1)", "15.2"},
		{"AHRI CERTIFIED RATINGS - EER2 (95F) (Appendix M1)", "11.7"},
		{"AHRI CERTIFIED RATINGS - Cooling Capacity (95F), btuh (Appendix M1)", "30,000"},
		{"Indoor Unit Model Number", "CAPTA3026C3"},
		{"Indoor Unit Model Number Brand", "Goodman"},
		{"Outdoor Unit Model Number", "GSXH503010"},
		{"HSPF2 something without the qualifiers", "7.5"},
	})

	assert.Equal(t, "203384289", cert.AHRIRef)
	require.NotNil(t, cert.SEER2)
	assert.Equal(t, 15.2, *cert.SEER2)
	require.NotNil(t, cert.Capacity)
	assert.Equal(t, int64(30000), *cert.Capacity)
	assert.Equal(t, 2.5, *cert.Tonnage)
	assert.Equal(t, "CAPTA3026C3", cert.IndoorModel)
	assert.Equal(t, "GSXH503010", cert.OutdoorModel)
	// HSPF2 only counts with the full rating qualifiers.
	assert.Nil(t, cert.HSPF2)
}
