package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDictionary = `
version: "test-1"
terms:
  - república
  - chile
  - decreto
  - supremo
  - ministerio
  - hacienda
  - de
corrections:
  republica: república
  decrcto: decreto
  dccreto: decrcto
  mlnisterio: ministerio
  minhac: ministerio de hacienda
`

func testCleaner(t *testing.T) *Cleaner {
	t.Helper()
	d, err := ParseDictionary([]byte(testDictionary))
	require.NoError(t, err)
	return New(d)
}

func TestCleanAppliesExactCorrectionsWithCase(t *testing.T) {
	c := testCleaner(t)

	assert.Equal(t, "REPÚBLICA DE CHILE", c.Clean("REPUBLICA DE CHILE"))
	assert.Equal(t, "República de Chile", c.Clean("Republica de Chile"))
	assert.Equal(t, "decreto supremo", c.Clean("decrcto supremo"))
	assert.Equal(t, "Ministerio de hacienda 12", c.Clean("Minhac 12"))
	assert.Equal(t, "MINISTERIO DE HACIENDA", c.Clean("MINHAC"))
}

func TestCleanResolvesCorrectionChains(t *testing.T) {
	c := testCleaner(t)
	assert.Equal(t, "DECRETO", c.Clean("DCCRETO"))
}

func TestCleanFuzzyMatching(t *testing.T) {
	c := testCleaner(t)

	assert.Equal(t, "Chile", c.Clean("Chlle"), "one edit on a short word")
	assert.Equal(t, "MINISTERIO", c.Clean("MIMSTERIO"), "two edits on a long word")
	assert.Equal(t, "Chi1e", c.Clean("Chi1e"), "tokens with digits are left alone")
	assert.Equal(t, "dex", c.Clean("dex"), "short tokens are left alone")
	assert.Equal(t, "zzzzzz", c.Clean("zzzzzz"))

	noFuzzy := New(c.dict, WithFuzzy(false))
	assert.Equal(t, "Chlle", noFuzzy.Clean("Chlle"))
}

func TestCleanFuzzyRequiresUniqueMatch(t *testing.T) {
	d, err := ParseDictionary([]byte("version: x\nterms: [casas, cosas]\n"))
	require.NoError(t, err)
	assert.Equal(t, "cesas", New(d).Clean("cesas"), "casas and cosas are equally close")
	assert.Equal(t, "casas", New(d).Clean("casax"))
}

func TestCleanStripsInvisibleAndControlCharacters(t *testing.T) {
	c := New(nil)

	in := "Re\u200bpú\u00adblica\x07 de\ufffd Chile\ue000\r\n\tDecreto\u00a0N°\u00a012"
	assert.Equal(t, "República de Chile\nDecreto N° 12", c.Clean(in))
}

func TestCleanNormalizesToNFC(t *testing.T) {
	c := New(nil)
	decomposed := "Repu\u0301blica"
	assert.Equal(t, "República", c.Clean(decomposed))
}

func TestCleanTypography(t *testing.T) {
	c := New(nil)
	assert.Equal(t, `"oficio" - 'visto'...`, c.Clean("“oficio” – ‘visto’…"))
	assert.Equal(t, "firma", c.Clean("ﬁrma"))
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	c := New(nil)
	in := "\n\n  VISTOS:   lo dispuesto  \n\n\n\n CONSIDERANDO:\n   \n\n1. Que  \n"
	assert.Equal(t, "VISTOS: lo dispuesto\n\nCONSIDERANDO:\n\n1. Que", c.Clean(in))
}

func TestCleanIsIdempotent(t *testing.T) {
	c := testCleaner(t)
	def := New(DefaultDictionary())

	inputs := []string{
		"",
		"REPUBLICA DE CHILE\nMINISTERIO DE HACIENDA",
		"Dccreto  Supremo N°  1.234 , de 2019 .",
		"minhac minhac MINHAC",
		"Chlle  y  la  Republica\u200b\n\n\n\nfin",
		"e\u0301\u200b\u0301 x\u00ad\u0301y",
		"“Artlculo 1°”— tómese razón, comuniquese y publiquese…",
		"mimsterio\tde\thacienda\r\nsubsecretaria",
		"ÁÉÍÓÚ ÑANDÚ ñandú Ünico",
	}
	for _, in := range inputs {
		for _, cl := range []*Cleaner{c, def} {
			once := cl.Clean(in)
			assert.Equal(t, once, cl.Clean(once), "input %q", in)
		}
	}
}

func FuzzCleanIdempotent(f *testing.F) {
	for _, seed := range []string{"REPUBLICA DE CHILE", "dccreto  minhac", "Chlle\u200b\n\n\nx", "ﬁrma — “texto”"} {
		f.Add(seed)
	}
	c := New(DefaultDictionary())
	f.Fuzz(func(t *testing.T, in string) {
		once := c.Clean(in)
		if twice := c.Clean(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}

func TestParseDictionaryValidation(t *testing.T) {
	_, err := ParseDictionary([]byte("terms: [\"dos palabras\"]"))
	assert.Error(t, err)

	_, err = ParseDictionary([]byte("corrections:\n  aa: bb\n  bb: aa\n"))
	assert.ErrorContains(t, err, "cycle")

	_, err = ParseDictionary([]byte("corrections:\n  x: \"...\"\n"))
	assert.Error(t, err)

	_, err = ParseDictionary([]byte("terms: [unclosed"))
	assert.Error(t, err)
}

func TestParseDictionaryDropsCorrectionsOfKnownWords(t *testing.T) {
	d, err := ParseDictionary([]byte("terms: [chile]\ncorrections:\n  chile: Chiie\n  chlie: chile\n"))
	require.NoError(t, err)

	_, ok := d.Correction("chile")
	assert.False(t, ok)
	to, ok := d.Correction("CHLIE")
	assert.True(t, ok)
	assert.Equal(t, "chile", to)
}

func TestKnownRatio(t *testing.T) {
	d, err := ParseDictionary([]byte(testDictionary))
	require.NoError(t, err)

	ratio, n := d.KnownRatio("República de Xyzw 1234 a")
	assert.Equal(t, 3, n, "digits and single letters are ignored")
	assert.InDelta(t, 2.0/3.0, ratio, 1e-9)

	ratio, n = d.KnownRatio("  ")
	assert.Equal(t, 0, n)
	assert.Equal(t, 0.0, ratio)
}

func TestDefaultDictionary(t *testing.T) {
	d := DefaultDictionary()
	stats := d.Stats()
	assert.NotEmpty(t, stats.Version)
	assert.Greater(t, stats.Terms, 50)
	assert.Greater(t, stats.Corrections, 10)
	assert.True(t, d.Known("REPÚBLICA"))

	c := New(d)
	got := c.Clean("REPUBLICA DE CHILE\nMINISTERIO DEL INTERIOR\nDECRETO SUPREMO N° 45\nTOMESE RAZON")
	assert.True(t, strings.HasPrefix(got, "REPÚBLICA DE CHILE"))
	assert.Contains(t, got, "TÓMESE RAZÓN")
}
