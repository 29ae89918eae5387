package semantic

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
)

// BuildFilter translates a SearchFilter into Qdrant must conditions. Each
// populated scalar field becomes one equality condition; each tag becomes its
// own condition on the tags field, so multiple tags filter to the
// intersection. A nil or empty filter returns nil, meaning no filtering.
func BuildFilter(f *domain.SearchFilter) *pb.Filter {
	if f.IsZero() {
		return nil
	}
	var must []*pb.Condition
	if f.Source != "" {
		must = append(must, fieldMatch(FieldSource, f.Source))
	}
	if f.DocumentType != "" {
		must = append(must, fieldMatch(FieldDocumentType, f.DocumentType))
	}
	if f.DomainID != "" {
		must = append(must, fieldMatch(FieldDomainID, f.DomainID))
	}
	if f.TopicID != "" {
		must = append(must, fieldMatch(FieldTopicID, f.TopicID))
	}
	for _, tag := range f.Tags {
		if tag != "" {
			must = append(must, fieldMatch(FieldTags, tag))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// textMatch builds a full-text match condition against key.
func textMatch(key, query string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Text{Text: query},
				},
			},
		},
	}
}
