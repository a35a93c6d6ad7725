// Package sparse implements the BM25 sparse encoder (C4): fit a corpus
// once, then encode documents and queries into token-indexed weight
// vectors suitable for a hybrid dense+sparse vector store query.
//
// The scoring formula and parameter defaults (K1=1.5, B=0.75) follow the
// classic BM25 ranking function; fit/encode separation and the
// thread-safe single-flight guard around the one-time fit are this
// package's own additions to satisfy the capability contract.
package sparse

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Parameters are the classic BM25 tunables.
type Parameters struct {
	K1 float64
	B  float64
}

// DefaultParameters returns the standard BM25 defaults.
func DefaultParameters() Parameters {
	return Parameters{K1: 1.5, B: 0.75}
}

// Vector is a sparse token-weight vector: parallel indices/values slices,
// matching the vector store's {indices, values} sparse value shape.
type Vector struct {
	Indices []uint32
	Values  []float32
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return matches
}

// Encoder is the process-wide BM25 sparse encoder singleton. It must be
// fit before Encode{Documents,Query} will produce results; encoding
// before fit is an error.
type Encoder struct {
	params Parameters

	mu        sync.RWMutex
	fitted    bool
	vocab     map[string]uint32 // term -> stable index
	docFreq   map[string]int    // term -> number of fitting documents containing it
	docCount  int
	avgDocLen float64

	fitGroup singleflight.Group
}

// NewEncoder constructs an unfitted encoder with the given parameters.
func NewEncoder(params Parameters) *Encoder {
	return &Encoder{params: params}
}

// Fitted reports whether the encoder has completed its one-time fit.
func (e *Encoder) Fitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// Fit builds the vocabulary, document frequencies, and average document
// length from corpus. Calling Fit again is a no-op once already fitted —
// the encoder is fit exactly once per spec.
func (e *Encoder) Fit(corpus []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fitted {
		return nil
	}
	e.fitLocked(corpus)
	return nil
}

func (e *Encoder) fitLocked(corpus []string) {
	vocab := make(map[string]uint32)
	docFreq := make(map[string]int)
	var totalLen int

	for _, doc := range corpus {
		terms := tokenize(doc)
		totalLen += len(terms)
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if _, ok := vocab[t]; !ok {
				vocab[t] = uint32(len(vocab))
			}
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	}

	e.vocab = vocab
	e.docFreq = docFreq
	e.docCount = len(corpus)
	if len(corpus) > 0 {
		e.avgDocLen = float64(totalLen) / float64(len(corpus))
	} else {
		e.avgDocLen = 0
	}
	e.fitted = true
}

// EnsureFitted performs a single-flight guarded fit: the first caller
// that observes an unfitted encoder invokes corpusFn to obtain the
// fitting corpus and fits; concurrent callers wait for that result
// instead of re-fetching the corpus themselves.
func (e *Encoder) EnsureFitted(corpusFn func() ([]string, error)) error {
	if e.Fitted() {
		return nil
	}
	_, err, _ := e.fitGroup.Do("fit", func() (interface{}, error) {
		if e.Fitted() {
			return nil, nil
		}
		corpus, err := corpusFn()
		if err != nil {
			return nil, err
		}
		return nil, e.Fit(corpus)
	})
	return err
}

// ErrNotFitted is returned by Encode{Documents,Query} when Fit has not
// been called.
var ErrNotFitted = fmt.Errorf("sparse: encoder is not fitted")

// EncodeDocuments scores each document against the fitted corpus
// statistics, producing one sparse vector per input document.
func (e *Encoder) EncodeDocuments(texts []string) ([]Vector, error) {
	if !e.Fitted() {
		return nil, ErrNotFitted
	}
	out := make([]Vector, len(texts))
	for i, t := range texts {
		out[i] = e.score(t)
	}
	return out, nil
}

// EncodeQuery scores the query text the same way as a document; BM25's
// asymmetry (queries use raw term presence, documents use the length
// normalization term) is captured by scoring the query as a short
// "document" against the fitted idf/avgdl statistics, which is the
// standard treatment when a single scorer is shared between indexing
// and querying.
func (e *Encoder) EncodeQuery(text string) (Vector, error) {
	if !e.Fitted() {
		return Vector{}, ErrNotFitted
	}
	return e.score(text), nil
}

func (e *Encoder) score(text string) Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	terms := tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	docLen := float64(len(terms))
	k1, b := e.params.K1, e.params.B

	var vec Vector
	for term, freq := range tf {
		idx, ok := e.vocab[term]
		if !ok {
			continue // term unseen at fit time: no sparse weight
		}
		df := e.docFreq[term]
		idf := math.Log(1 + (float64(e.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		denom := float64(freq) + k1*(1-b+b*docLen/nonZero(e.avgDocLen))
		weight := idf * float64(freq) * (k1 + 1) / denom
		if weight <= 0 {
			continue
		}
		vec.Indices = append(vec.Indices, idx)
		vec.Values = append(vec.Values, float32(weight))
	}
	return vec
}

func nonZero(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

// Snapshot is a serializable capture of the fitted encoder state,
// persisted alongside the index so a restarted process can restore the
// exact fit instead of resampling (resolves the "BM25 refit
// reproducibility" open question).
type Snapshot struct {
	Params    Parameters
	Vocab     map[string]uint32
	DocFreq   map[string]int
	DocCount  int
	AvgDocLen float64
}

// Snapshot captures the current fitted state. Returns false if unfitted.
func (e *Encoder) Snapshot() (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return Snapshot{}, false
	}
	return Snapshot{
		Params:    e.params,
		Vocab:     e.vocab,
		DocFreq:   e.docFreq,
		DocCount:  e.docCount,
		AvgDocLen: e.avgDocLen,
	}, true
}

// Restore loads a previously captured Snapshot, marking the encoder
// fitted without re-reading any corpus.
func (e *Encoder) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = snap.Params
	e.vocab = snap.Vocab
	e.docFreq = snap.DocFreq
	e.docCount = snap.DocCount
	e.avgDocLen = snap.AvgDocLen
	e.fitted = true
}

// Reset clears the fitted state, e.g. on index recreation.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fitted = false
	e.vocab = nil
	e.docFreq = nil
	e.docCount = 0
	e.avgDocLen = 0
}
