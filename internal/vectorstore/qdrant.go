package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// QdrantStore adapts the fixed five collections onto a single Qdrant
// client, mirroring the teacher's qdrantRepository struct (a shared client,
// a base collection-name prefix, and a sync.Map tracking which collections
// have already been verified/created this process).
type QdrantStore struct {
	client                 *qdrant.Client
	collectionPrefix       string
	dimensions             uint64
	initializedCollections sync.Map
}

// NewQdrantStore builds a store against host:grpcPort.
func NewQdrantStore(host string, grpcPort int, collectionPrefix string, dimensions int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: grpcPort})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", fabricerrors.ErrVectorStore, err)
	}
	return &QdrantStore{client: client, collectionPrefix: collectionPrefix, dimensions: uint64(dimensions)}, nil
}

func (s *QdrantStore) collectionName(c Collection) string {
	return s.collectionPrefix + "_" + string(c)
}

// ensureCollection verifies (once per process, via the sync.Map cache) that
// the collection exists. The adapter never creates it lazily with the wrong
// schema silently — a missing collection on first use is a caller/ops error,
// so EnsureCollection is exposed explicitly for bootstrap code to call.
func (s *QdrantStore) ensureCollection(ctx context.Context, c Collection) error {
	name := s.collectionName(c)
	if _, ok := s.initializedCollections.Load(name); ok {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: checking collection %s: %v", fabricerrors.ErrVectorStore, name, err)
	}
	if !exists {
		return fmt.Errorf("%w: collection %s does not exist; the adapter never creates collections implicitly", fabricerrors.ErrVectorStore, name)
	}
	s.initializedCollections.Store(name, true)
	return nil
}

// EnsureCollections creates any of the five fixed collections that don't yet
// exist, with the platform's single committed embedding dimension. Intended
// to run once at deploy/bootstrap time, not per-request.
func (s *QdrantStore) EnsureCollections(ctx context.Context) error {
	for _, c := range []Collection{CollectionRaw, CollectionKnowledge, CollectionTopics, CollectionDomains, CollectionInsights, CollectionCache} {
		name := s.collectionName(c)
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: checking collection %s: %v", fabricerrors.ErrVectorStore, name, err)
		}
		if !exists {
			err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.dimensions,
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return fmt.Errorf("%w: creating collection %s: %v", fabricerrors.ErrVectorStore, name, err)
			}
		}
		s.initializedCollections.Store(name, true)
	}
	return nil
}

func (s *QdrantStore) Insert(ctx context.Context, collection Collection, vector []float32, record types.VectorRecord) (string, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return "", err
	}
	if len(vector) != int(s.dimensions) {
		return "", fmt.Errorf("%w: insert vector has %d dims, collection wants %d", fabricerrors.ErrDimensionMismatch, len(vector), s.dimensions)
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(payloadFromVectorRecord(record)),
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName(collection),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return "", fmt.Errorf("%w: inserting into %s: %v", fabricerrors.ErrVectorStore, collection, err)
	}
	return id, nil
}

func (s *QdrantStore) Update(ctx context.Context, collection Collection, id string, vector []float32, record *types.VectorRecord) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	name := s.collectionName(collection)
	if vector != nil {
		if len(vector) != int(s.dimensions) {
			return fmt.Errorf("%w: update vector has %d dims, collection wants %d", fabricerrors.ErrDimensionMismatch, len(vector), s.dimensions)
		}
		point := &qdrant.PointStruct{Id: qdrant.NewID(id), Vectors: qdrant.NewVectors(vector...)}
		if record != nil {
			point.Payload = qdrant.NewValueMap(payloadFromVectorRecord(*record))
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: []*qdrant.PointStruct{point}})
		if err != nil {
			return fmt.Errorf("%w: updating %s/%s: %v", fabricerrors.ErrVectorStore, collection, id, err)
		}
		return nil
	}
	if record != nil {
		_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: name,
			Payload:        qdrant.NewValueMap(payloadFromVectorRecord(*record)),
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(id)),
		})
		if err != nil {
			return fmt.Errorf("%w: updating payload %s/%s: %v", fabricerrors.ErrVectorStore, collection, id, err)
		}
	}
	return nil
}

// Delete is idempotent: Qdrant's point delete does not distinguish "missing"
// from "deleted", so a prior FetchByID determines the returned bool.
func (s *QdrantStore) Delete(ctx context.Context, collection Collection, id string) (bool, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return false, err
	}
	existing, err := s.FetchByID(ctx, collection, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName(collection),
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return false, fmt.Errorf("%w: deleting %s/%s: %v", fabricerrors.ErrVectorStore, collection, id, err)
	}
	return true, nil
}

func (s *QdrantStore) NearVector(ctx context.Context, collection Collection, query []float32, limit int, filter *Filter) ([]Hit, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	req := &qdrant.QueryPoints{
		CollectionName: s.collectionName(collection),
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = buildQdrantFilter(*filter)
	}
	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: near_vector on %s: %v", fabricerrors.ErrVectorStore, collection, err)
	}
	hits := make([]Hit, 0, len(resp))
	for _, p := range resp {
		distance := 1 - float64(p.GetScore())
		payload := map[string]any{}
		for k, v := range p.GetPayload() {
			payload[k] = qdrantValueToGo(v)
		}
		id := qdrantIDToString(p.GetId())
		hits = append(hits, Hit{
			ID:         id,
			Record:     vectorRecordFromPayload(id, payload),
			Distance:   distance,
			Similarity: DistanceToSimilarity(distance),
		})
	}
	return hits, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection Collection) (int64, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collectionName(collection), Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("%w: counting %s: %v", fabricerrors.ErrVectorStore, collection, err)
	}
	return int64(n), nil
}

func (s *QdrantStore) FetchByID(ctx context.Context, collection Collection, id string) (*types.VectorRecord, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName(collection),
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s/%s: %v", fabricerrors.ErrVectorStore, collection, id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	payload := map[string]any{}
	for k, v := range points[0].GetPayload() {
		payload[k] = qdrantValueToGo(v)
	}
	rec := vectorRecordFromPayload(id, payload)
	return &rec, nil
}

func buildQdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.UserID != "" {
		must = append(must, qdrant.NewMatch("user_id", f.UserID))
	}
	if f.PrivacyLevel != "" {
		must = append(must, qdrant.NewMatch("privacy_level", string(f.PrivacyLevel)))
	}
	if f.EnabledOnly {
		must = append(must, qdrant.NewMatchBool("is_enabled", true))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func qdrantValueToGo(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, qdrantValueToGo(item))
		}
		return out
	default:
		return nil
	}
}

func qdrantIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uid := id.GetUuid(); uid != "" {
		return uid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
