package rag

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Document types known to the index.
const (
	DocTypeBible         = "bible"
	DocTypeCharacter     = "character"
	DocTypeFact          = "fact"
	DocTypeForeshadowing = "foreshadowing"
	DocTypeChapter       = "chapter"
)

const maxVocabSize = 5000

// Document is one indexed text unit with its embedding.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	DocType   string            `json:"doc_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float64         `json:"embedding"`
}

// SearchResult pairs a document with its similarity to the query.
type SearchResult struct {
	Document Document
	Score    float64
}

// Retriever is a self-contained TF-IDF index. Embeddings are dense
// IDF-weighted bag-of-words vectors, L2-normalized so dot product is
// cosine similarity. No external model or service involved.
type Retriever struct {
	vocab     map[string]int
	idf       []float64
	documents []Document
	fitted    bool
}

func NewRetriever() *Retriever {
	return &Retriever{vocab: make(map[string]int)}
}

// Fitted reports whether the index has been built.
func (r *Retriever) Fitted() bool {
	return r.fitted
}

// Documents returns the indexed documents.
func (r *Retriever) Documents() []Document {
	return r.documents
}

// Tokenize lowercases the text and emits ASCII alphanumeric words plus
// individual CJK ideographs. Everything else separates tokens.
func Tokenize(text string) []string {
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			word.WriteRune(r)
		case r >= 0x4E00 && r <= 0x9FFF:
			flush()
			tokens = append(tokens, string(r))
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// Fit builds the vocabulary and IDF table from a document set and
// embeds every document. Replaces any previous index contents.
func (r *Retriever) Fit(docs []Document) {
	type termStat struct {
		term string
		tf   int
		df   int
	}

	stats := make(map[string]*termStat)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, tok := range Tokenize(doc.Content) {
			st, ok := stats[tok]
			if !ok {
				st = &termStat{term: tok}
				stats[tok] = st
			}
			st.tf++
			if !seen[tok] {
				st.df++
				seen[tok] = true
			}
		}
	}

	// Vocabulary keeps the most frequent terms, ties broken
	// lexicographically for a deterministic index
	ordered := make([]*termStat, 0, len(stats))
	for _, st := range stats {
		ordered = append(ordered, st)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].tf != ordered[j].tf {
			return ordered[i].tf > ordered[j].tf
		}
		return ordered[i].term < ordered[j].term
	})
	if len(ordered) > maxVocabSize {
		ordered = ordered[:maxVocabSize]
	}

	r.vocab = make(map[string]int, len(ordered))
	r.idf = make([]float64, len(ordered))
	docCount := float64(len(docs))
	for i, st := range ordered {
		r.vocab[st.term] = i
		r.idf[i] = math.Log(docCount/float64(st.df+1)) + 1
	}

	r.documents = make([]Document, len(docs))
	copy(r.documents, docs)
	for i := range r.documents {
		r.documents[i].Embedding = r.Embed(r.documents[i].Content)
	}

	r.fitted = true
}

// Embed maps text onto the vocabulary space and L2-normalizes. Texts
// with no in-vocabulary token embed as the zero vector.
func (r *Retriever) Embed(text string) []float64 {
	vec := make([]float64, len(r.idf))
	for _, tok := range Tokenize(text) {
		if idx, ok := r.vocab[tok]; ok {
			vec[idx] += r.idf[idx]
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Search returns the topK most similar documents, optionally filtered
// by document type. An unfitted index returns nothing. Ties keep
// index order, so results are deterministic.
func (r *Retriever) Search(query, docType string, topK int) []SearchResult {
	if !r.fitted || topK <= 0 {
		return nil
	}

	qvec := r.Embed(query)

	var results []SearchResult
	for _, doc := range r.documents {
		if docType != "" && doc.DocType != docType {
			continue
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    dot(qvec, doc.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Document type priorities per agent role. Each role sees the kinds
// of context it acts on first.
var agentDocTypes = map[string][]string{
	"director": {DocTypeBible, DocTypeFact, DocTypeForeshadowing, DocTypeChapter},
	"writer":   {DocTypeBible, DocTypeCharacter, DocTypeFact, DocTypeChapter},
	"checker":  {DocTypeFact, DocTypeCharacter, DocTypeBible},
}

var defaultDocTypes = []string{DocTypeBible, DocTypeCharacter, DocTypeFact}

const (
	perTypeTopK    = 3
	agentResultCap = 5
)

// SearchForAgent runs a per-type search over the role's preferred
// document types, merges, and returns the best five overall.
func (r *Retriever) SearchForAgent(agent, query string) []SearchResult {
	if !r.fitted {
		return nil
	}

	docTypes, ok := agentDocTypes[agent]
	if !ok {
		docTypes = defaultDocTypes
	}

	var merged []SearchResult
	for _, dt := range docTypes {
		merged = append(merged, r.Search(query, dt, perTypeTopK)...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > agentResultCap {
		merged = merged[:agentResultCap]
	}
	return merged
}
