package milvus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"chatbot-agent/internal/domain"
)

// Collection field names written by the ingestion service.
const (
	FieldVector     = "vector"
	FieldOwnerID    = "owner_id"
	FieldDocumentID = "document_id"
	FieldPage       = "page"
	FieldLabel      = "label"
	FieldText       = "text"

	defaultTopK = 5
)

var outputFields = []string{FieldDocumentID, FieldPage, FieldLabel, FieldText}

// searcher is the slice of client.Client used for vector search.
type searcher interface {
	Search(ctx context.Context, collName string, partitions []string,
		expr string, outputFields []string, vectors []entity.Vector, vectorField string,
		metricType entity.MetricType, topK int, sp entity.SearchParam,
		opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
}

// Embedder turns query text into a vector with the given model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Retriever implements scoped vector retrieval on a Milvus collection.
type Retriever struct {
	store      searcher
	embed      Embedder
	collection string
	topK       int
}

// NewRetriever creates a Retriever searching collection. topK <= 0 uses 5.
func NewRetriever(store searcher, embed Embedder, collection string, topK int) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("milvus: searcher must not be nil")
	}
	if embed == nil {
		return nil, errors.New("milvus: embedder must not be nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("milvus: collection must not be empty")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{store: store, embed: embed, collection: collection, topK: topK}, nil
}

// Retrieve returns the best chunks for req.Query among req.DocumentIDs owned
// by req.Tenant. An empty document list yields no chunks and no search.
func (r *Retriever) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(req.Tenant) == "" {
		return nil, errors.New("milvus: tenant is required")
	}
	if len(req.DocumentIDs) == 0 {
		return []domain.RetrievedChunk{}, nil
	}

	vec, err := r.embed.Embed(ctx, req.EmbeddingModel, req.Query)
	if err != nil {
		return nil, fmt.Errorf("milvus: embed query: %w", err)
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}
	topK := r.topK
	if req.TopK > 0 {
		topK = req.TopK
	}

	results, err := r.store.Search(ctx, r.collection, nil,
		scopeExpr(req.Tenant, req.DocumentIDs), outputFields,
		[]entity.Vector{entity.FloatVector(vec)}, FieldVector,
		entity.COSINE, topK, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClBounded),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus: search %q: %w", r.collection, err)
	}

	chunks := make([]domain.RetrievedChunk, 0, topK)
	for _, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("milvus: search result: %w", res.Err)
		}
		decoded, err := decodeResult(res)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, decoded...)
	}
	return chunks, nil
}

func decodeResult(res client.SearchResult) ([]domain.RetrievedChunk, error) {
	docCol := res.Fields.GetColumn(FieldDocumentID)
	textCol := res.Fields.GetColumn(FieldText)
	if docCol == nil || textCol == nil {
		return nil, errors.New("milvus: search result missing document_id or text")
	}
	pageCol := res.Fields.GetColumn(FieldPage)
	labelCol := res.Fields.GetColumn(FieldLabel)

	out := make([]domain.RetrievedChunk, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		docID, err := docCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: decode %s[%d]: %w", FieldDocumentID, i, err)
		}
		text, err := textCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: decode %s[%d]: %w", FieldText, i, err)
		}
		chunk := domain.RetrievedChunk{DocumentID: docID, Text: text}
		if pageCol != nil {
			if p, err := pageCol.GetAsInt64(i); err == nil {
				chunk.Page = int(p)
			}
		}
		if labelCol != nil {
			chunk.Label, _ = labelCol.GetAsString(i)
		}
		if i < len(res.Scores) {
			chunk.Score = float64(res.Scores[i])
		}
		out = append(out, chunk)
	}
	return out, nil
}

// scopeExpr builds the boolean filter restricting a search to one tenant's
// listed documents.
func scopeExpr(tenant string, documentIDs []string) string {
	quoted := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		quoted = append(quoted, quote(id))
	}
	return fmt.Sprintf("%s == %s && %s in [%s]",
		FieldOwnerID, quote(tenant), FieldDocumentID, strings.Join(quoted, ", "))
}

var exprEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return `"` + exprEscaper.Replace(s) + `"`
}

// Dial connects to Milvus at address. The returned client satisfies searcher
// and must be closed by the caller.
func Dial(ctx context.Context, address, username, password string) (client.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("milvus: address must not be empty")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  address,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus: connect %s: %w", address, err)
	}
	return c, nil
}
