// Package knowledge provides the optional knowledge search collaborator and the
// semantic memory used by reactivation. Similarity is cosine over embeddings
// computed in Go; tenant corpora are small enough for a linear scan.
package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/llm"
	"github.com/leadpilot/pkg/models"
)

// Match is one search hit
type Match struct {
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
}

// Searcher looks up tenant knowledge relevant to a query
type Searcher interface {
	Search(ctx context.Context, tenantID int64, query string, k int) ([]Match, error)
}

// Document is an indexed chunk of tenant knowledge or lead history
type Document struct {
	ID      string
	LeadID  string
	Content string
	Source  string
	vector  []float32
}

// Index is an in-memory vector index partitioned by tenant
type Index struct {
	embedder llm.Embedder

	mu   sync.RWMutex
	docs map[int64]map[string]*Document
}

func NewIndex(e llm.Embedder) *Index {
	return &Index{embedder: e, docs: make(map[int64]map[string]*Document)}
}

var _ Searcher = (*Index)(nil)

// Upsert embeds doc and stores it under its id
func (ix *Index) Upsert(ctx context.Context, tenantID int64, doc Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return apperr.Invalid("knowledge.upsert", "empty document %q", doc.ID)
	}
	vec, err := ix.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return apperr.External("knowledge.upsert", err)
	}
	doc.vector = vec

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.docs[tenantID] == nil {
		ix.docs[tenantID] = make(map[string]*Document)
	}
	ix.docs[tenantID][doc.ID] = &doc
	return nil
}

// IndexMessages embeds the messages not yet present in the index
func (ix *Index) IndexMessages(ctx context.Context, tenantID int64, msgs []models.Message) error {
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" || ix.has(tenantID, m.ID) {
			continue
		}
		err := ix.Upsert(ctx, tenantID, Document{
			ID:      m.ID,
			LeadID:  m.LeadID,
			Content: m.Text,
			Source:  "message:" + string(m.Direction),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) has(tenantID int64, id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[tenantID][id]
	return ok
}

// Search implements Searcher over every document of the tenant
func (ix *Index) Search(ctx context.Context, tenantID int64, query string, k int) ([]Match, error) {
	return ix.search(ctx, tenantID, "", query, k, 0)
}

// SearchLead ranks the documents of one lead, keeping hits at or above threshold
func (ix *Index) SearchLead(ctx context.Context, tenantID int64, leadID, query string, k int, threshold float64) ([]Match, error) {
	return ix.search(ctx, tenantID, leadID, query, k, threshold)
}

func (ix *Index) search(ctx context.Context, tenantID int64, leadID, query string, k int, threshold float64) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return []Match{}, nil
	}
	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.External("knowledge.search", err)
	}

	ix.mu.RLock()
	var out []Match
	for _, d := range ix.docs[tenantID] {
		if leadID != "" && d.LeadID != leadID {
			continue
		}
		if len(d.vector) != len(qv) {
			continue
		}
		sim := cosineSimilarity(qv, d.vector)
		if sim < threshold {
			continue
		}
		out = append(out, Match{Similarity: sim, Content: d.Content, Source: d.Source})
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Content < out[j].Content
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []Match{}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
