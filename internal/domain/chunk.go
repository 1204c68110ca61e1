package domain

// RetrievedChunk is a ranked piece of document text returned by retrieval.
// Score is opaque to the pipeline.
type RetrievedChunk struct {
	DocumentID string
	Page       int
	Label      string
	Text       string
	Score      float64
}

// Source is the citation shape returned to callers.
type Source struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Label      string `json:"label"`
	Text       string `json:"text"`
}

// Source converts the chunk into its citation form.
func (c RetrievedChunk) Source() Source {
	return Source{
		DocumentID: c.DocumentID,
		Page:       c.Page,
		Label:      c.Label,
		Text:       c.Text,
	}
}

// RetrievalRequest asks for the top chunks of Query restricted to the tenant
// and the listed documents.
type RetrievalRequest struct {
	Tenant         string
	Query          string
	DocumentIDs    []string
	TopK           int
	EmbeddingModel string
}
