// Package vectordb provides the Qdrant-backed vector index adapter.
package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"visearch/internal/domain"
)

// Keyword payload fields indexed at collection creation for filtered search.
var keywordIndexFields = []string{"source_type", "camera_id", "evidence_id"}

// QdrantIndex implements port.VectorIndex against a Qdrant gRPC endpoint.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qpb.CollectionsClient
	points      qpb.PointsClient

	collection string
	vectorSize int
	timeout    time.Duration
	log        *slog.Logger
}

// Options configures a QdrantIndex.
type Options struct {
	Addr       string
	APIKey     string
	Collection string
	VectorSize int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New dials the Qdrant gRPC endpoint. The connection is lazy; Initialize
// performs the first round trip.
func New(opts Options) (*QdrantIndex, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", opts.Addr, err)
	}

	return &QdrantIndex{
		conn:        conn,
		collections: qpb.NewCollectionsClient(conn),
		points:      qpb.NewPointsClient(conn),
		collection:  opts.Collection,
		vectorSize:  opts.VectorSize,
		timeout:     opts.Timeout,
		log:         opts.Logger,
	}, nil
}

// apiKeyInterceptor attaches the Qdrant api-key header to every call.
func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func (q *QdrantIndex) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}

// Initialize creates the collection with cosine distance if it does not
// exist yet, along with keyword payload indexes. Safe to call on every start.
func (q *QdrantIndex) Initialize(ctx context.Context) error {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	existsResp, err := q.collections.CollectionExists(ctx, &qpb.CollectionExistsRequest{
		CollectionName: q.collection,
	})
	if err != nil {
		return fmt.Errorf("check collection %q: %w", q.collection, err)
	}
	if existsResp.GetResult().GetExists() {
		q.log.Debug("collection already exists", "collection", q.collection)
		return nil
	}

	q.log.Info("creating collection", "collection", q.collection, "vector_size", q.vectorSize)
	_, err = q.collections.Create(ctx, &qpb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qpb.VectorsConfig{
			Config: &qpb.VectorsConfig_Params{
				Params: &qpb.VectorParams{
					Size:     uint64(q.vectorSize),
					Distance: qpb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", q.collection, err)
	}

	wait := true
	for _, field := range keywordIndexFields {
		_, err = q.points.CreateFieldIndex(ctx, &qpb.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qpb.FieldType_FieldTypeKeyword.Enum(),
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("create payload index %q: %w", field, err)
		}
	}

	return nil
}

// Store writes one embedding and waits for the write to complete.
func (q *QdrantIndex) Store(ctx context.Context, embedding domain.ImageEmbedding) error {
	return q.StoreBatch(ctx, []domain.ImageEmbedding{embedding})
}

// StoreBatch writes several embeddings in one upsert. A write status other
// than completed is reported as an error.
func (q *QdrantIndex) StoreBatch(ctx context.Context, embeddings []domain.ImageEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	points := make([]*qpb.PointStruct, len(embeddings))
	for i, emb := range embeddings {
		points[i] = &qpb.PointStruct{
			Id:      pointID(emb.ID),
			Vectors: denseVectors(emb.Vector),
			Payload: toQdrantPayload(emb.Payload),
		}
	}

	wait := true
	resp, err := q.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	if status := resp.GetResult().GetStatus(); status != qpb.UpdateStatus_Completed {
		return fmt.Errorf("upsert not completed: status=%s", status)
	}
	return nil
}

// SearchSimilar runs a nearest-neighbor query. The threshold is an inclusive
// lower bound on the cosine score; a nil or empty filter means unfiltered.
func (q *QdrantIndex) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float32, filter map[string]string) ([]domain.SearchResult, error) {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	req := &qpb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		WithPayload: &qpb.WithPayloadSelector{
			SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if f := buildFilter(filter); f != nil {
		req.Filter = f
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		results = append(results, hitToResult(hit))
	}
	return results, nil
}

// buildFilter turns keyword equality conditions into a Qdrant must-filter.
func buildFilter(conditions map[string]string) *qpb.Filter {
	if len(conditions) == 0 {
		return nil
	}
	must := make([]*qpb.Condition, 0, len(conditions))
	for key, value := range conditions {
		must = append(must, &qpb.Condition{
			ConditionOneOf: &qpb.Condition_Field{
				Field: &qpb.FieldCondition{
					Key: key,
					Match: &qpb.Match{
						MatchValue: &qpb.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qpb.Filter{Must: must}
}

func hitToResult(hit *qpb.ScoredPoint) domain.SearchResult {
	payload := fromQdrantPayload(hit.GetPayload())

	res := domain.SearchResult{
		Score:   float64(hit.GetScore()),
		Payload: payload,
	}

	if v, ok := payload["evidence_id"].(string); ok {
		res.EvidenceID = v
	} else {
		res.EvidenceID = hit.GetId().GetUuid()
	}
	if v, ok := payload["camera_id"].(string); ok {
		res.CameraID = v
	}
	if v, ok := payload["image_url"].(string); ok {
		res.ImageURL = v
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			res.CreatedAt = t
		}
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	return res
}

// Exists reports whether a point with the given id is stored.
func (q *QdrantIndex) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	resp, err := q.points.Get(ctx, &qpb.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qpb.PointId{pointID(id)},
	})
	if err != nil {
		return false, fmt.Errorf("get point %s: %w", id, err)
	}
	return len(resp.GetResult()) > 0, nil
}

// GetByID retrieves a stored embedding with its vector and payload, or nil
// when the point does not exist.
func (q *QdrantIndex) GetByID(ctx context.Context, id string) (*domain.ImageEmbedding, error) {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	resp, err := q.points.Get(ctx, &qpb.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qpb.PointId{pointID(id)},
		WithVectors: &qpb.WithVectorsSelector{
			SelectorOptions: &qpb.WithVectorsSelector_Enable{Enable: true},
		},
		WithPayload: &qpb.WithPayloadSelector{
			SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get point %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}

	point := resp.GetResult()[0]
	payload := fromQdrantPayload(point.GetPayload())

	emb := &domain.ImageEmbedding{
		ID:      id,
		Vector:  outputVector(point.GetVectors()),
		Payload: payload,
	}
	if v, ok := payload["source_type"].(string); ok {
		emb.SourceType = v
	}
	if v, ok := payload["image_url"].(string); ok {
		emb.ImageURL = v
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			emb.CreatedAt = t
		}
	}
	return emb, nil
}

// Delete removes a point and waits for the write to complete.
func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	wait := true
	resp, err := q.points.Delete(ctx, &qpb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &qpb.PointsSelector{
			PointsSelectorOneOf: &qpb.PointsSelector_Points{
				Points: &qpb.PointsIdsList{Ids: []*qpb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	if status := resp.GetResult().GetStatus(); status != qpb.UpdateStatus_Completed {
		return fmt.Errorf("delete not completed: status=%s", status)
	}
	return nil
}

// Stats returns a snapshot of the collection.
func (q *QdrantIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()

	resp, err := q.collections.Get(ctx, &qpb.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("collection info: %w", err)
	}

	info := resp.GetResult()
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()

	return domain.IndexStats{
		Collection: q.collection,
		Points:     info.GetPointsCount(),
		VectorSize: int(params.GetSize()),
		Distance:   params.GetDistance().String(),
		Status:     info.GetStatus().String(),
	}, nil
}

func pointID(id string) *qpb.PointId {
	return &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: id}}
}

func denseVectors(data []float32) *qpb.Vectors {
	return &qpb.Vectors{
		VectorsOptions: &qpb.Vectors_Vector{
			Vector: &qpb.Vector{
				Vector: &qpb.Vector_Dense{Dense: &qpb.DenseVector{Data: data}},
			},
		},
	}
}

func outputVector(vectors *qpb.VectorsOutput) []float32 {
	vo := vectors.GetVector()
	if vo == nil {
		return nil
	}
	if d := vo.GetDense(); d != nil {
		return d.GetData()
	}
	return vo.GetData()
}
