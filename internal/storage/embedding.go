/**
 * Page term vectors
 *
 * Feature-hashed bag of words used as the Qdrant point vector for every stored
 * page. Accents are folded and case is ignored so "REPUBLICA" and "república"
 * land on the same dimension. Vectors are L2-normalized, so cosine similarity
 * in Qdrant ranks pages by shared vocabulary.
 */

package storage

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultVectorSize is the dimension of page vectors.
const DefaultVectorSize = 512

// Embedder turns page text into fixed-size vectors.
type Embedder struct {
	dims int
}

// NewEmbedder creates an embedder producing vectors of dims dimensions.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultVectorSize
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// GenerateEmbedding hashes unigrams and adjacent bigrams of text into a
// normalized vector. Text without any indexable token is an error.
func (e *Embedder) GenerateEmbedding(text string) ([]float32, error) {
	terms := indexTerms(text)
	if len(terms) == 0 {
		return nil, fmt.Errorf("text has no indexable terms")
	}

	vec := make([]float64, e.dims)
	for i, term := range terms {
		e.add(vec, term, 1)
		if i > 0 {
			e.add(vec, terms[i-1]+" "+term, 0.5)
		}
	}

	var norm2 float64
	for _, v := range vec {
		norm2 += v * v
	}
	out := make([]float32, e.dims)
	if norm2 == 0 {
		return out, nil
	}
	scale := 1 / math.Sqrt(norm2)
	for i, v := range vec {
		out[i] = float32(v * scale)
	}
	return out, nil
}

// add places term into a bucket with a hash-derived sign, so colliding terms
// tend to cancel rather than accumulate.
func (e *Embedder) add(vec []float64, term string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(term))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// indexTerms lower-cases, strips diacritics and keeps letter/digit runs of at
// least two runes.
func indexTerms(text string) []string {
	folded := foldAccents(strings.ToLower(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func foldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}
