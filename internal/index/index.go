// Package index implements an in-process TF-IDF document index with cosine
// similarity ranking. Documents are stored as sparse term-weight vectors so
// scoring only touches overlapping terms.
package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"ctxengine/internal/logging"
)

// =============================================================================
// SEARCH INDEX
// =============================================================================

// SearchIndex ranks documents by lexical relevance to a query. All methods
// are safe for concurrent use; writes are serialized behind the mutex because
// IDF values are global state shared by every document vector.
type SearchIndex struct {
	mu sync.RWMutex

	// termCounts holds raw term frequencies per document.
	termCounts map[string]map[string]int

	// docFreq counts how many documents contain each term.
	docFreq map[string]int

	// vectors holds the TF-IDF weighted vector per document. Mutations mark
	// it dirty instead of rebuilding, so a burst of adds costs O(n) total;
	// Search rebuilds once before reading.
	vectors map[string]map[string]float64
	dirty   bool
}

// Result is one ranked search hit.
type Result struct {
	ID    string
	Score float64
}

// New creates an empty search index.
func New() *SearchIndex {
	return &SearchIndex{
		termCounts: make(map[string]map[string]int),
		docFreq:    make(map[string]int),
		vectors:    make(map[string]map[string]float64),
	}
}

// Len returns the number of indexed documents.
func (idx *SearchIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.termCounts)
}

// Contains reports whether a document is indexed.
func (idx *SearchIndex) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.termCounts[id]
	return ok
}

// Add indexes text under the given document id. Re-adding an id replaces the
// previous document. Empty or punctuation-only text indexes an empty vector
// that never matches; this is not an error.
func (idx *SearchIndex) Add(id, text string) {
	terms := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.termCounts[id]; exists {
		idx.removeLocked(id)
	}

	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}
	for t := range counts {
		idx.docFreq[t]++
	}
	idx.termCounts[id] = counts

	// Document frequencies changed, so IDF weights of every affected term
	// are stale across all documents holding them.
	idx.dirty = true

	logging.IndexDebug("indexed doc %s: %d distinct terms, %d total docs", id, len(counts), len(idx.termCounts))
}

// Remove drops a document from the index. Removing an unknown id is a no-op.
func (idx *SearchIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.termCounts[id]; !exists {
		return
	}
	idx.removeLocked(id)
	idx.dirty = true
	logging.IndexDebug("removed doc %s, %d docs remain", id, len(idx.termCounts))
}

func (idx *SearchIndex) removeLocked(id string) {
	for t := range idx.termCounts[id] {
		idx.docFreq[t]--
		if idx.docFreq[t] <= 0 {
			delete(idx.docFreq, t)
		}
	}
	delete(idx.termCounts, id)
	delete(idx.vectors, id)
}

// recomputeVectorsLocked rebuilds every document vector from current term
// counts and document frequencies.
func (idx *SearchIndex) recomputeVectorsLocked() {
	total := float64(len(idx.termCounts))
	for id, counts := range idx.termCounts {
		vec := make(map[string]float64, len(counts))
		for t, tf := range counts {
			w := float64(tf) * idx.idfLocked(t, total)
			if w != 0 {
				vec[t] = w
			}
		}
		idx.vectors[id] = vec
	}
	idx.dirty = false
}

// refresh rebuilds vectors if mutations have landed since the last search.
// Double-checked so concurrent searches after a quiet period stay on the
// read lock.
func (idx *SearchIndex) refresh() {
	idx.mu.RLock()
	dirty := idx.dirty
	idx.mu.RUnlock()
	if !dirty {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.dirty {
		idx.recomputeVectorsLocked()
	}
}

// idfLocked computes log(totalDocs/df). A term present in every document
// weighs zero, which also means a single-document index matches nothing; the
// store always holds more than one searchable entry in practice.
func (idx *SearchIndex) idfLocked(term string, totalDocs float64) float64 {
	df := idx.docFreq[term]
	if df == 0 || totalDocs == 0 {
		return 0
	}
	return math.Log(totalDocs / float64(df))
}

// Search ranks indexed documents against the query. limit <= 0 means no cap.
// minScore < 0 disables the score floor. Malformed or empty queries degrade
// to an empty result set; this method never fails.
func (idx *SearchIndex) Search(query string, limit int, minScore float64) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	idx.refresh()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.termCounts) == 0 {
		return nil
	}

	// Build the query vector using current IDF weights.
	queryCounts := make(map[string]int, len(terms))
	for _, t := range terms {
		queryCounts[t]++
	}
	total := float64(len(idx.termCounts))
	queryVec := make(map[string]float64, len(queryCounts))
	var queryNorm float64
	for t, tf := range queryCounts {
		w := float64(tf) * idx.idfLocked(t, total)
		if w != 0 {
			queryVec[t] = w
			queryNorm += w * w
		}
	}
	queryNorm = math.Sqrt(queryNorm)

	var results []Result
	for id, vec := range idx.vectors {
		score := cosine(queryVec, queryNorm, vec)
		if score <= 0 {
			continue
		}
		if minScore > 0 && score < minScore {
			continue
		}
		results = append(results, Result{ID: id, Score: score})
	}

	// Descending score; ascending id breaks ties deterministically.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// cosine computes dot(query, doc) / (|query| * |doc|) iterating only over
// the query's terms. Zero-magnitude vectors score 0.
func cosine(queryVec map[string]float64, queryNorm float64, doc map[string]float64) float64 {
	if queryNorm == 0 || len(doc) == 0 {
		return 0
	}

	var dot, docNorm float64
	for _, w := range doc {
		docNorm += w * w
	}
	if docNorm == 0 {
		return 0
	}
	for t, qw := range queryVec {
		if dw, ok := doc[t]; ok {
			dot += qw * dw
		}
	}
	return dot / (queryNorm * math.Sqrt(docNorm))
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// Tokenize lowercases text, strips punctuation, splits on whitespace, and
// drops empty tokens. Pure and deterministic.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
