package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const (
	qdrantGRPCPort  = 6334
	qdrantUserAgent = "storyloom"
)

// QdrantBackend talks to a Qdrant server over gRPC.
type QdrantBackend struct {
	client *qdrant.Client
}

// NewQdrantBackend connects to the server at rawURL. The REST port 6333 that
// dashboards and HTTP clients use is mapped to the gRPC port.
func NewQdrantBackend(rawURL, apiKey string) (*QdrantBackend, error) {
	cfg, err := qdrantConfig(rawURL, apiKey)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &QdrantBackend{client: client}, nil
}

func qdrantConfig(rawURL, apiKey string) (*qdrant.Config, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid qdrant url %q: missing host", rawURL)
	}

	port := qdrantGRPCPort
	if p := u.Port(); p != "" && p != "6333" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
	}

	return &qdrant.Config{
		Host:        u.Hostname(),
		Port:        port,
		APIKey:      apiKey,
		UseTLS:      u.Scheme == "https",
		GrpcOptions: []grpc.DialOption{
			grpc.WithUserAgent(qdrantUserAgent),
		},
	}, nil
}

func (b *QdrantBackend) Describe(ctx context.Context, name string) (Collection, error) {
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return Collection{}, err
	}
	if !exists {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return Collection{}, err
	}
	return describeQdrant(name, info.GetConfig().GetParams().GetVectorsConfig().GetParams()), nil
}

// describeQdrant maps unnamed vector params to a Collection. Collections
// with named vectors report an unknown shape.
func describeQdrant(name string, params *qdrant.VectorParams) Collection {
	c := Collection{Name: name}
	if params == nil {
		return c
	}
	c.Dimension = int(params.GetSize())
	c.Distance = Distance(strings.ToLower(params.GetDistance().String()))
	return c
}

func (b *QdrantBackend) CreateCollection(ctx context.Context, c Collection) error {
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection string, p Point) error {
	payload := make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	return err
}

func (b *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for _, sp := range points {
		payload := make(map[string]string, len(sp.GetPayload()))
		for k, v := range sp.GetPayload() {
			payload[k] = v.GetStringValue()
		}
		id := sp.GetId().GetUuid()
		if id == "" {
			id = strconv.FormatUint(sp.GetId().GetNum(), 10)
		}
		matches = append(matches, Match{
			ID:      id,
			Score:   sp.GetScore(),
			Payload: payload,
		})
	}
	return matches, nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
