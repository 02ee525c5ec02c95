// Package dynamodb implements storage.Store on Amazon DynamoDB.
//
// Every table has a single string hash key. Items are converted with the
// attributevalue package so documents round-trip as plain Go maps.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/funstudy/funstudy/storage"
)

const (
	maxBatchGet   = 100
	maxBatchWrite = 25
	// maxUnprocessedRetries bounds resubmission of throttled batch items.
	maxUnprocessedRetries = 5
	tableWaitTimeout      = 2 * time.Minute
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	dynamodb.DescribeTableAPIClient
	dynamodb.ListTablesAPIClient
	dynamodb.ScanAPIClient
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store implements storage.Store backed by DynamoDB.
type Store struct {
	client API

	mu       sync.RWMutex
	keyAttrs map[string]string
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store using the given DynamoDB client.
func NewStore(client API) *Store {
	return &Store{client: client, keyAttrs: make(map[string]string)}
}

func (s *Store) keyAttribute(ctx context.Context, table string) (string, error) {
	s.mu.RLock()
	attr, ok := s.keyAttrs[table]
	s.mu.RUnlock()
	if ok {
		return attr, nil
	}
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", mapError(table, "", err)
	}
	for _, k := range out.Table.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			attr = aws.ToString(k.AttributeName)
		}
	}
	if attr == "" {
		return "", fmt.Errorf("%s: table has no hash key", table)
	}
	s.mu.Lock()
	s.keyAttrs[table] = attr
	s.mu.Unlock()
	return attr, nil
}

// CreateTable creates an on-demand table and waits for it to become active.
func (s *Store) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	if spec.Name == "" || spec.KeyAttribute == "" {
		return errors.New("table name and key attribute are required")
	}
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(spec.Name),
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(spec.KeyAttribute),
			AttributeType: types.ScalarAttributeTypeS,
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(spec.KeyAttribute),
			KeyType:       types.KeyTypeHash,
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return mapError(spec.Name, "", err)
	}
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(spec.Name)}, tableWaitTimeout); err != nil {
		return fmt.Errorf("waiting for table %s: %w", spec.Name, err)
	}
	s.mu.Lock()
	s.keyAttrs[spec.Name] = spec.KeyAttribute
	s.mu.Unlock()
	return nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := s.keyAttribute(ctx, table)
	if errors.Is(err, storage.ErrTableNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	p := dynamodb.NewListTablesPaginator(s.client, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, page.TableNames...)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Item, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       keyOf(attr, key),
	})
	if err != nil {
		return nil, mapError(table, key, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	return unmarshalItem(out.Item)
}

func (s *Store) Put(ctx context.Context, table string, item storage.Item) error {
	_, av, err := s.prepare(ctx, table, item)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: av})
	return mapError(table, "", err)
}

func (s *Store) PutIfAbsent(ctx context.Context, table string, item storage.Item) error {
	attr, av, err := s.prepare(ctx, table, item)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attr},
	})
	return mapError(table, "", err)
}

// Update issues a single SET expression covering every field and returns
// the item as stored afterwards.
func (s *Store) Update(ctx context.Context, table, key string, fields storage.Item) (storage.Item, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name != attr {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		// Nothing to set; make sure the item exists and return it.
		if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(table),
			Key:       keyOf(attr, key),
		}); err != nil {
			return nil, mapError(table, key, err)
		}
		return s.Get(ctx, table, key)
	}

	exprNames := make(map[string]string, len(names))
	exprValues := make(map[string]types.AttributeValue, len(names))
	expr := "SET "
	for i, name := range names {
		n, v := "#f"+strconv.Itoa(i), ":v"+strconv.Itoa(i)
		av, err := attributevalue.Marshal(fields[name])
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", name, err)
		}
		exprNames[n] = name
		exprValues[v] = av
		if i > 0 {
			expr += ", "
		}
		expr += n + " = " + v
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       keyOf(attr, key),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, mapError(table, key, err)
	}
	return unmarshalItem(out.Attributes)
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(table),
		Key:                      keyOf(attr, key),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attr},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	return mapError(table, key, err)
}

func (s *Store) Scan(ctx context.Context, table string, filter *storage.Filter) ([]storage.Item, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(table)}
	if filter != nil {
		in.FilterExpression = aws.String("#a = :v")
		in.ExpressionAttributeNames = map[string]string{"#a": filter.Attribute}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: filter.Equals},
		}
	}
	var out []storage.Item
	p := dynamodb.NewScanPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(table, "", err)
		}
		for _, av := range page.Items {
			item, err := unmarshalItem(av)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	return out, nil
}

// BatchGet reads keys in chunks of 100, resubmitting unprocessed keys a
// bounded number of times.
func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Item, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return nil, err
	}
	var out []storage.Item
	for chunk := range slices.Chunk(dedupe(keys), maxBatchGet) {
		req := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, k := range chunk {
			req = append(req, keyOf(attr, k))
		}
		pending := map[string]types.KeysAndAttributes{table: {Keys: req}}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return nil, fmt.Errorf("%s: batch get left unprocessed keys", table)
			}
			res, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, mapError(table, "", err)
			}
			for _, av := range res.Responses[table] {
				item, err := unmarshalItem(av)
				if err != nil {
					return nil, err
				}
				out = append(out, item)
			}
			pending = res.UnprocessedKeys
			if len(pending) > 0 {
				if err := backoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// BatchPut writes items in chunks of 25. Items are not applied atomically
// across chunks.
func (s *Store) BatchPut(ctx context.Context, table string, items []storage.Item) error {
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		_, av, err := s.prepare(ctx, table, item)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	for chunk := range slices.Chunk(reqs, maxBatchWrite) {
		pending := map[string][]types.WriteRequest{table: chunk}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return fmt.Errorf("%s: batch write left unprocessed items", table)
			}
			res, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return mapError(table, "", err)
			}
			pending = res.UnprocessedItems
			if len(pending) > 0 {
				if err := backoff(ctx, attempt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) prepare(ctx context.Context, table string, item storage.Item) (string, map[string]types.AttributeValue, error) {
	attr, err := s.keyAttribute(ctx, table)
	if err != nil {
		return "", nil, err
	}
	if _, err := storage.KeyOf(item, attr); err != nil {
		return "", nil, err
	}
	// Normalize through JSON so struct-derived values marshal like maps.
	normalized, err := storage.Clone(item)
	if err != nil {
		return "", nil, err
	}
	av, err := attributevalue.MarshalMap(map[string]any(normalized))
	if err != nil {
		return "", nil, fmt.Errorf("marshaling item: %w", err)
	}
	return attr, av, nil
}

func keyOf(attr, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attr: &types.AttributeValueMemberS{Value: key}}
}

func unmarshalItem(av map[string]types.AttributeValue) (storage.Item, error) {
	var raw map[string]any
	if err := attributevalue.UnmarshalMap(av, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	// DynamoDB numbers decode as float64 already; the clone normalizes
	// string sets and nested lists into []any.
	return storage.Clone(raw)
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(50<<attempt) * time.Millisecond
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func mapError(table, key string, err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound *types.ResourceNotFoundException
		inUse    *types.ResourceInUseException
		ccf      *types.ConditionalCheckFailedException
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	case errors.As(err, &inUse):
		return fmt.Errorf("%s: %w", table, storage.ErrTableExists)
	case errors.As(err, &ccf):
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrConditionFailed)
	}
	return err
}
