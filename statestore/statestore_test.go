package statestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/segvis/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB table keyed by "key" that honours
// the two condition expressions the store issues.
type mockDDBClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (m *mockDDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	key := params.Key[attrKey].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: m.items[key]}, nil
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	key := params.Item[attrKey].(*types.AttributeValueMemberS).Value
	existing, exists := m.items[key]

	failed := &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	switch aws.ToString(params.ConditionExpression) {
	case "attribute_not_exists(#v)":
		if exists {
			return nil, failed
		}
	case "#v = :expected":
		want := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !exists || existing[attrVersion].(*types.AttributeValueMemberN).Value != want {
			return nil, failed
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, _, err := s.Get(ctx, "layer")
	require.ErrorIs(t, err, ErrNotFound)

	v1, err := s.Put(ctx, "layer", []byte(`{"a":1}`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	data, version, err := s.Get(ctx, "layer")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.Equal(t, v1, version)

	// A second creator loses.
	_, err = s.Put(ctx, "layer", []byte(`{"a":2}`), 0)
	require.ErrorIs(t, err, ErrConcurrentModification)

	v2, err := s.Put(ctx, "layer", []byte(`{"a":3}`), v1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// A stale writer loses and the document is unchanged.
	_, err = s.Put(ctx, "layer", []byte(`{"a":4}`), v1)
	require.ErrorIs(t, err, ErrConcurrentModification)

	data, version, err = s.Get(ctx, "layer")
	require.NoError(t, err)
	assert.Equal(t, `{"a":3}`, string(data))
	assert.Equal(t, v2, version)

	// Keys are independent.
	_, err = s.Put(ctx, "other", []byte(`{}`), 0)
	require.NoError(t, err)
}

func TestBlobStore(t *testing.T) {
	exerciseStore(t, NewBlobStore(blobstore.NewMemoryStore()))
}

func TestBlobStore_Local(t *testing.T) {
	exerciseStore(t, NewBlobStore(blobstore.NewLocalStore(t.TempDir())))
}

func TestBlobStore_CorruptVersion(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	require.NoError(t, bs.Put(ctx, "layer.version", []byte("x")))

	s := NewBlobStore(bs)
	_, _, err := s.Get(ctx, "layer")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestBlobStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(blobstore.NewMemoryStore())

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, "layer", []byte(`{}`), 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDynamoDB(t *testing.T) {
	exerciseStore(t, NewDynamoDB(newMockDDBClient(), "segvis-state"))
}

func TestDynamoDB_ClientError(t *testing.T) {
	client := newMockDDBClient()
	client.err = errors.New("throttled")
	s := NewDynamoDB(client, "segvis-state")

	_, err := s.Put(context.Background(), "layer", []byte(`{}`), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConcurrentModification)

	_, _, err = s.Get(context.Background(), "layer")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDynamoDB_InvalidItem(t *testing.T) {
	client := newMockDDBClient()
	client.items["layer"] = map[string]types.AttributeValue{
		attrKey:     &types.AttributeValueMemberS{Value: "layer"},
		attrVersion: &types.AttributeValueMemberS{Value: "1"},
	}
	_, _, err := NewDynamoDB(client, "segvis-state").Get(context.Background(), "layer")
	require.ErrorContains(t, err, "invalid version")
}

func TestOpenDynamoDB_RequiresTable(t *testing.T) {
	_, err := OpenDynamoDB(context.Background(), "")
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(blobstore.NewMemoryStore())

	type doc struct {
		Name  string  `json:"name"`
		Alpha float32 `json:"alpha"`
	}

	v, err := Save(ctx, s, "layer", doc{Name: "seg", Alpha: 0.5}, 0)
	require.NoError(t, err)

	var got doc
	version, err := Load(ctx, s, "layer", &got)
	require.NoError(t, err)
	assert.Equal(t, v, version)
	assert.Equal(t, doc{Name: "seg", Alpha: 0.5}, got)

	require.NoError(t, bsPut(s, "layer.json", []byte("{")))
	_, err = Load(ctx, s, "layer", &got)
	require.ErrorContains(t, err, "decode layer")
}

func bsPut(s *BlobStore, name string, data []byte) error {
	return s.bs.Put(context.Background(), name, data)
}
