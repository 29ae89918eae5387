// Package domain defines the shared data model, validation, and error taxonomy
// for the corpus engine. It acts as the validation gate at pipeline entry points.
package domain

// Metadata describes a source document. All fields are optional; unknown
// caller-specific attributes go into Extra so the payload shape stays open
// without losing type safety on the known fields.
type Metadata struct {
	Source       string            `json:"source,omitempty"`
	Title        string            `json:"title,omitempty"`
	Author       string            `json:"author,omitempty"`
	DocumentType string            `json:"document_type,omitempty"`
	DomainID     string            `json:"domain_id,omitempty"`
	TopicID      string            `json:"topic_id,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Language     string            `json:"language,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// SearchFilter narrows retrieval and deletion to points whose payload matches
// every populated field. Tags combine with AND: a point must carry all of them.
type SearchFilter struct {
	Source       string   `json:"source,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	DomainID     string   `json:"domain_id,omitempty"`
	TopicID      string   `json:"topic_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f *SearchFilter) IsZero() bool {
	if f == nil {
		return true
	}
	return f.Source == "" && f.DocumentType == "" && f.DomainID == "" &&
		f.TopicID == "" && len(f.Tags) == 0
}
