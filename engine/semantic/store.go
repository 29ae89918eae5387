// Package semantic is the sole owner of all Qdrant operations: collection
// bootstrap, point upsert, vector search, keyword scroll, filtered delete,
// and the health probe.
package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// healthAPI is the slice of pb.QdrantClient the store uses.
type healthAPI interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// VectorStore talks to one Qdrant collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	root        healthAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		root:        pb.NewQdrantClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore backed by pre-built clients. Used by
// tests to substitute fakes.
func NewWithClients(points pointsAPI, collections collectionsAPI, root healthAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		root:        root,
		collection:  collection,
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores records as points, waiting for persistence so the points are
// queryable when the call returns.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// VectorSearch performs k-NN similarity search under an optional filter.
func (v *VectorStore) VectorSearch(ctx context.Context, embedding []float32, filter *domain.SearchFilter, limit int) ([]ScoredHit, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		Filter:         BuildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: vector search: %w", err)
	}

	hits := make([]ScoredHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		text, docID, payload := splitPayload(r.GetPayload())
		hits[i] = ScoredHit{
			ID:         r.GetId().GetUuid(),
			Score:      r.GetScore(),
			Text:       text,
			DocumentID: docID,
			Payload:    payload,
		}
	}
	return hits, nil
}

// KeywordScroll runs a full-text match for query against the text field under
// the same optional filter, returning up to limit hits in the store's native
// relevance order.
func (v *VectorStore) KeywordScroll(ctx context.Context, query string, filter *domain.SearchFilter, limit int) ([]KeywordHit, error) {
	must := []*pb.Condition{textMatch(FieldText, query)}
	if built := BuildFilter(filter); built != nil {
		must = append(must, built.GetMust()...)
	}

	n := uint32(limit)
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: v.collection,
		Filter:         &pb.Filter{Must: must},
		Limit:          &n,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: keyword scroll: %w", err)
	}

	hits := make([]KeywordHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		text, docID, payload := splitPayload(r.GetPayload())
		hits[i] = KeywordHit{
			ID:         r.GetId().GetUuid(),
			Text:       text,
			DocumentID: docID,
			Payload:    payload,
		}
	}
	return hits, nil
}

// DeleteByFilter removes all points matching filter and returns how many were
// removed. An empty filter is rejected before any store call so a filtered
// delete can never wipe the whole collection.
func (v *VectorStore) DeleteByFilter(ctx context.Context, filter *domain.SearchFilter) (uint64, error) {
	if err := domain.ValidateDeleteFilter(filter); err != nil {
		return 0, err
	}
	built := BuildFilter(filter)

	exact := true
	count, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Filter:         built,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count before delete: %w", err)
	}

	wait := true
	_, err = v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: built},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: delete by filter: %w", err)
	}
	return count.GetResult().GetCount(), nil
}

// Health probes the store. A failed probe reports unavailable rather than an
// error; the point count is best-effort.
func (v *VectorStore) Health(ctx context.Context) Health {
	if _, err := v.root.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return Health{Available: false}
	}
	h := Health{Available: true}
	exact := false
	if count, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.collection, Exact: &exact}); err == nil {
		h.DocumentCount = count.GetResult().GetCount()
	}
	return h
}

// toPayload converts a generic payload map into Qdrant values. String slices
// become list values so tag conditions can match individual elements.
func toPayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		case []string:
			vals := make([]*pb.Value, len(tv))
			for i, s := range tv {
				vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
			}
			out[k] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

// splitPayload extracts the text and document id fields and flattens the rest
// into a string map.
func splitPayload(payload map[string]*pb.Value) (text, docID string, rest map[string]string) {
	rest = make(map[string]string)
	for k, val := range payload {
		s := valueString(val)
		switch k {
		case FieldText:
			text = s
		case FieldDocumentID:
			docID = s
		default:
			rest[k] = s
		}
	}
	return text, docID, rest
}

func valueString(val *pb.Value) string {
	switch kind := val.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	case *pb.Value_ListValue:
		parts := make([]string, 0, len(kind.ListValue.GetValues()))
		for _, v := range kind.ListValue.GetValues() {
			parts = append(parts, valueString(v))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}
