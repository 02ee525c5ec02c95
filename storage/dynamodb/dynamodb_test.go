package dynamodb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/storage/storagetest"
)

// TestDynamoDBStore runs against DynamoDB Local, e.g.
// docker run -p 8000:8000 amazon/dynamodb-local
func TestDynamoDBStore(t *testing.T) {
	endpoint := os.Getenv("FUNSTUDY_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("FUNSTUDY_TEST_DYNAMODB_ENDPOINT not set; skipping DynamoDB tests")
	}
	client := dynamodb.New(dynamodb.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
	})
	storagetest.Run(t, func(t *testing.T) storage.Store { return NewStore(client) })
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing table", &types.ResourceNotFoundException{Message: aws.String("nope")}, storage.ErrTableNotFound},
		{"table in use", &types.ResourceInUseException{Message: aws.String("exists")}, storage.ErrTableExists},
		{"condition", &types.ConditionalCheckFailedException{Message: aws.String("taken")}, storage.ErrConditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("T", "k", tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError("T", "k", nil))
	other := errors.New("boom")
	assert.Same(t, other, mapError("T", "k", other))
}

func TestUnmarshalItemNormalizesValues(t *testing.T) {
	item, err := unmarshalItem(map[string]types.AttributeValue{
		"questionId": &types.AttributeValueMemberS{Value: "q1"},
		"points":     &types.AttributeValueMemberN{Value: "10"},
		"options": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberS{Value: "a"},
			&types.AttributeValueMemberS{Value: "b"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "q1", item["questionId"])
	assert.Equal(t, float64(10), item["points"])
	assert.Equal(t, []any{"a", "b"}, item["options"])
}

type describeOnly struct {
	API
	calls int
}

func (d *describeOnly) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	d.calls++
	if aws.ToString(in.TableName) != "Users" {
		return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		KeySchema: []types.KeySchemaElement{{AttributeName: aws.String("userId"), KeyType: types.KeyTypeHash}},
	}}, nil
}

func TestKeyAttributeIsCached(t *testing.T) {
	api := &describeOnly{}
	s := NewStore(api)
	ctx := context.Background()

	for range 3 {
		attr, err := s.keyAttribute(ctx, "Users")
		require.NoError(t, err)
		assert.Equal(t, "userId", attr)
	}
	assert.Equal(t, 1, api.calls)

	ok, err := s.TableExists(ctx, "Other")
	require.NoError(t, err)
	assert.False(t, ok)
}
