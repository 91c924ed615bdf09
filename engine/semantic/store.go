package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// StoreOptions configures a QdrantStore.
type StoreOptions struct {
	// CallTimeout bounds every individual gRPC call.
	CallTimeout time.Duration
	// ScrollBatchSize is the page size used by FetchByFilter and Get.
	ScrollBatchSize int
}

// DefaultStoreOptions returns sensible defaults.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		CallTimeout:     30 * time.Second,
		ScrollBatchSize: 1000,
	}
}

// QdrantStore is the sole owner of all Qdrant operations.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	opts        StoreOptions
}

var _ Index = (*QdrantStore)(nil)

// New creates a QdrantStore connected to Qdrant at the given gRPC address.
func New(addr string, opts StoreOptions) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts)
	s.conn = conn
	return s, nil
}

// NewWithClients creates a QdrantStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, opts StoreOptions) *QdrantStore {
	def := DefaultStoreOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.ScrollBatchSize <= 0 {
		opts.ScrollBatchSize = def.ScrollBatchSize
	}
	return &QdrantStore{points: points, collections: collections, opts: opts}
}

// Close closes the underlying gRPC connection.
func (v *QdrantStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

func (v *QdrantStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.opts.CallTimeout)
}

// Exists reports whether the collection exists.
func (v *QdrantStore) Exists(ctx context.Context, name string) (bool, error) {
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	list, err := v.collections.List(cctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, domain.NewTransportError("list collections", err)
	}
	if list == nil {
		return false, domain.NewProtocolError("list collections", "empty response")
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// Create creates the collection if it doesn't exist.
func (v *QdrantStore) Create(ctx context.Context, name string, vectorSize int, distance Distance) (bool, error) {
	exists, err := v.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	resp, err := v.collections.Create(cctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(vectorSize),
					Distance: toDistance(distance),
				},
			},
		},
	})
	if err != nil {
		return false, domain.NewTransportError("create collection "+name, err)
	}
	if resp == nil {
		return false, domain.NewProtocolError("create collection "+name, "empty response")
	}
	return resp.GetResult(), nil
}

// Drop deletes the collection if it exists.
func (v *QdrantStore) Drop(ctx context.Context, name string) (bool, error) {
	exists, err := v.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	resp, err := v.collections.Delete(cctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return false, domain.NewTransportError("delete collection "+name, err)
	}
	if resp == nil {
		return false, domain.NewProtocolError("delete collection "+name, "empty response")
	}
	return resp.GetResult(), nil
}

// EnsureFieldIndex creates a payload index of the given kind on field. Qdrant
// treats a repeated request for the same field and type as a no-op.
func (v *QdrantStore) EnsureFieldIndex(ctx context.Context, name, field string, kind FieldKind) error {
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	wait := true
	ft := fieldType(kind)
	resp, err := v.points.CreateFieldIndex(cctx, &pb.CreateFieldIndexCollection{
		CollectionName: name,
		Wait:           &wait,
		FieldName:      field,
		FieldType:      &ft,
	})
	if err != nil {
		return domain.NewTransportError("create field index "+field, err)
	}
	if resp.GetResult() == nil {
		return domain.NewProtocolError("create field index "+field, "missing result")
	}
	return nil
}

func fieldType(k FieldKind) pb.FieldType {
	switch k {
	case IntegerField:
		return pb.FieldType_FieldTypeInteger
	case FloatField:
		return pb.FieldType_FieldTypeFloat
	case BoolField:
		return pb.FieldType_FieldTypeBool
	default:
		return pb.FieldType_FieldTypeKeyword
	}
}

// Count returns the exact number of points matching filter.
func (v *QdrantStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	exact := true
	resp, err := v.points.Count(cctx, &pb.CountPoints{
		CollectionName: name,
		Filter:         toFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, domain.NewTransportError("count "+name, err)
	}
	if resp.GetResult() == nil {
		return 0, domain.NewProtocolError("count "+name, "missing result")
	}
	return int(resp.GetResult().GetCount()), nil
}

// FetchByFilter scrolls through every point matching filter.
func (v *QdrantStore) FetchByFilter(ctx context.Context, name string, filter Filter, fields []string) ([]Point, error) {
	limit := uint32(v.opts.ScrollBatchSize)
	var (
		out    []Point
		offset *pb.PointId
	)
	for {
		page, next, err := v.scrollPage(ctx, name, filter, fields, offset, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == nil {
			return out, nil
		}
		offset = next
	}
}

func (v *QdrantStore) scrollPage(ctx context.Context, name string, filter Filter, fields []string, offset *pb.PointId, limit uint32) ([]Point, *pb.PointId, error) {
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	resp, err := v.points.Scroll(cctx, &pb.ScrollPoints{
		CollectionName: name,
		Filter:         toFilter(filter),
		Offset:         offset,
		Limit:          &limit,
		WithPayload:    payloadSelector(fields),
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, nil, domain.NewTransportError("scroll "+name, err)
	}
	if resp == nil {
		return nil, nil, domain.NewProtocolError("scroll "+name, "empty response")
	}
	page, err := retrievedPoints("scroll "+name, resp.GetResult())
	if err != nil {
		return nil, nil, err
	}
	return page, resp.GetNextPageOffset(), nil
}

// Get fetches full payloads for ids, in pages of ScrollBatchSize.
func (v *QdrantStore) Get(ctx context.Context, name string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Point
	for start := 0; start < len(ids); start += v.opts.ScrollBatchSize {
		end := min(start+v.opts.ScrollBatchSize, len(ids))
		pids := make([]*pb.PointId, 0, end-start)
		for _, id := range ids[start:end] {
			pids = append(pids, toPointID(id))
		}
		page, err := v.getPage(ctx, name, pids)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func (v *QdrantStore) getPage(ctx context.Context, name string, ids []*pb.PointId) ([]Point, error) {
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	resp, err := v.points.Get(cctx, &pb.GetPoints{
		CollectionName: name,
		Ids:            ids,
		WithPayload:    payloadSelector(nil),
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, domain.NewTransportError("get "+name, err)
	}
	if resp == nil {
		return nil, domain.NewProtocolError("get "+name, "empty response")
	}
	return retrievedPoints("get "+name, resp.GetResult())
}

// Upsert stores points. It reports whether Qdrant completed the operation.
func (v *QdrantStore) Upsert(ctx context.Context, name string, points []domain.IndexPoint) (bool, error) {
	if len(points) == 0 {
		return false, nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: toPointID(p.PointID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(p.Payload),
		}
	}

	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	wait := true
	resp, err := v.points.Upsert(cctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return false, domain.NewTransportError(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	if resp.GetResult() == nil {
		return false, domain.NewProtocolError("upsert", "missing result")
	}
	return resp.GetResult().GetStatus() == pb.UpdateStatus_Completed, nil
}

// Delete removes points by id. An empty id list is a validation error.
func (v *QdrantStore) Delete(ctx context.Context, name string, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, domain.NewValidationError("point_ids", name, domain.ErrEmptyIDs)
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = toPointID(id)
	}

	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	wait := true
	resp, err := v.points.Delete(cctx, &pb.DeletePoints{
		CollectionName: name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pids},
			},
		},
	})
	if err != nil {
		return false, domain.NewTransportError(fmt.Sprintf("delete %d points", len(ids)), err)
	}
	if resp.GetResult() == nil {
		return false, domain.NewProtocolError("delete", "missing result")
	}
	return resp.GetResult().GetStatus() == pb.UpdateStatus_Completed, nil
}

// Search performs k-NN similarity search with an optional payload filter.
func (v *QdrantStore) Search(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	cctx, cancel := v.callCtx(ctx)
	defer cancel()
	resp, err := v.points.Search(cctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Filter:         toFilter(filter),
		Limit:          uint64(limit),
		WithPayload:    payloadSelector(nil),
	})
	if err != nil {
		return nil, domain.NewTransportError("search "+name, err)
	}
	if resp == nil {
		return nil, domain.NewProtocolError("search "+name, "empty response")
	}

	results := make([]ScoredPoint, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id, ok := pointIDString(r.GetId())
		if !ok {
			return nil, domain.NewProtocolError("search "+name, "hit without point id")
		}
		results = append(results, ScoredPoint{
			ID:      id,
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		})
	}
	return results, nil
}

func payloadSelector(fields []string) *pb.WithPayloadSelector {
	if len(fields) == 0 {
		return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
	}
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: fields},
		},
	}
}

func retrievedPoints(op string, in []*pb.RetrievedPoint) ([]Point, error) {
	out := make([]Point, 0, len(in))
	for _, r := range in {
		id, ok := pointIDString(r.GetId())
		if !ok {
			return nil, domain.NewProtocolError(op, "point without id")
		}
		out = append(out, Point{ID: id, Payload: fromPayload(r.GetPayload())})
	}
	return out, nil
}
