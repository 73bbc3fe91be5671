package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAdapter implements cache storage using AWS DynamoDB.
// Values are JSON-encoded strings. DynamoDB's native TTL reclamation can
// lag by up to 48 hours, so expiry is also enforced client-side on every
// read with the same predicate the sweep uses.
// This is suitable for serverless deployments.
type DynamoDBAdapter struct {
	mu        sync.Mutex
	client    *dynamodb.Client
	tableName string
	region    string
}

// dynamoItem represents a cache entry in DynamoDB
type dynamoItem struct {
	Key       string `dynamodbav:"key"` // Partition key
	Value     string `dynamodbav:"value"`
	CreatedAt int64  `dynamodbav:"created_at"` // Unix millis
	ExpiresAt int64  `dynamodbav:"expires_at"` // Unix millis, 0 = never
}

// NewDynamoDBAdapter creates a new DynamoDB-backed storage adapter.
func NewDynamoDBAdapter(tableName, region string) *DynamoDBAdapter {
	return &DynamoDBAdapter{
		tableName: tableName,
		region:    region,
	}
}

// Connect loads AWS configuration and creates the client. Idempotent.
func (d *DynamoDBAdapter) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.region))
	if err != nil {
		return adapterErr("dynamodb", "connect", err)
	}
	d.client = dynamodb.NewFromConfig(cfg)
	return nil
}

// Disconnect releases the client. Safe to call multiple times.
func (d *DynamoDBAdapter) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The DynamoDB client holds no persistent connection.
	d.client = nil
	return nil
}

// conn returns the client or ErrNotConnected.
func (d *DynamoDBAdapter) conn() (*dynamodb.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, ErrNotConnected
	}
	return d.client, nil
}

// dynamoExpired mirrors the shared expiry predicate for stored millis.
func dynamoExpired(expiresAt int64, now time.Time) bool {
	return expiresAt > 0 && expiresAt <= now.UnixMilli()
}

// Get retrieves and decodes the value stored under key.
func (d *DynamoDBAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	client, err := d.conn()
	if err != nil {
		return nil, false, adapterErr("dynamodb", "get", err)
	}

	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, adapterErr("dynamodb", "get", err)
	}
	if result.Item == nil {
		return nil, false, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, false, adapterErr("dynamodb", "get", err)
	}
	if dynamoExpired(item.ExpiresAt, time.Now()) {
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal([]byte(item.Value), &value); err != nil {
		return nil, false, adapterErr("dynamodb", "get", err)
	}
	return value, true, nil
}

// Set stores the JSON-encoded value under key, replacing any existing item.
func (d *DynamoDBAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	client, err := d.conn()
	if err != nil {
		return adapterErr("dynamodb", "set", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return adapterErr("dynamodb", "set", err)
	}

	now := time.Now()
	item := dynamoItem{
		Key:       key,
		Value:     string(data),
		CreatedAt: now.UnixMilli(),
	}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl).UnixMilli()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return adapterErr("dynamodb", "set", err)
	}

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return adapterErr("dynamodb", "set", err)
	}
	return nil
}

// scanItems lists every item's key and expiry via a paged table scan.
func (d *DynamoDBAdapter) scanItems(ctx context.Context, client *dynamodb.Client) ([]dynamoItem, error) {
	var items []dynamoItem
	var startKey map[string]types.AttributeValue
	for {
		out, err := client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.tableName),
			ProjectionExpression: aws.String("#k, expires_at"),
			ExpressionAttributeNames: map[string]string{
				"#k": "key",
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		items = append(items, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return items, nil
}

// deleteKeys removes the given keys one item at a time.
func (d *DynamoDBAdapter) deleteKeys(ctx context.Context, client *dynamodb.Client, keys []string) error {
	for _, key := range keys {
		_, err := client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.tableName),
			Key:       map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the exact key, or all keys matching a glob pattern,
// and returns the number of live entries removed.
func (d *DynamoDBAdapter) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	client, err := d.conn()
	if err != nil {
		return 0, adapterErr("dynamodb", "delete", err)
	}

	now := time.Now()

	if !hasWildcard(keyOrPattern) {
		out, err := client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(d.tableName),
			Key:          map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: keyOrPattern}},
			ReturnValues: types.ReturnValueAllOld,
		})
		if err != nil {
			return 0, adapterErr("dynamodb", "delete", err)
		}
		if out.Attributes == nil {
			return 0, nil
		}
		var old dynamoItem
		if err := attributevalue.UnmarshalMap(out.Attributes, &old); err != nil {
			return 0, adapterErr("dynamodb", "delete", err)
		}
		if dynamoExpired(old.ExpiresAt, now) {
			return 0, nil
		}
		return 1, nil
	}

	items, err := d.scanItems(ctx, client)
	if err != nil {
		return 0, adapterErr("dynamodb", "delete", err)
	}
	re, err := compilePattern(keyOrPattern)
	if err != nil {
		return 0, adapterErr("dynamodb", "delete", err)
	}

	var toDelete []string
	removed := 0
	for _, item := range items {
		if !re.MatchString(item.Key) {
			continue
		}
		toDelete = append(toDelete, item.Key)
		if !dynamoExpired(item.ExpiresAt, now) {
			removed++
		}
	}
	if err := d.deleteKeys(ctx, client, toDelete); err != nil {
		return 0, adapterErr("dynamodb", "delete", err)
	}
	return removed, nil
}

// Has reports whether a live entry exists under key.
func (d *DynamoDBAdapter) Has(ctx context.Context, key string) (bool, error) {
	client, err := d.conn()
	if err != nil {
		return false, adapterErr("dynamodb", "has", err)
	}

	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.tableName),
		Key:                  map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("expires_at"),
	})
	if err != nil {
		return false, adapterErr("dynamodb", "has", err)
	}
	if result.Item == nil {
		return false, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return false, adapterErr("dynamodb", "has", err)
	}
	return !dynamoExpired(item.ExpiresAt, time.Now()), nil
}

// Clear removes all items and returns the number of live entries removed.
func (d *DynamoDBAdapter) Clear(ctx context.Context) (int, error) {
	client, err := d.conn()
	if err != nil {
		return 0, adapterErr("dynamodb", "clear", err)
	}

	items, err := d.scanItems(ctx, client)
	if err != nil {
		return 0, adapterErr("dynamodb", "clear", err)
	}

	now := time.Now()
	keys := make([]string, 0, len(items))
	removed := 0
	for _, item := range items {
		keys = append(keys, item.Key)
		if !dynamoExpired(item.ExpiresAt, now) {
			removed++
		}
	}
	if err := d.deleteKeys(ctx, client, keys); err != nil {
		return 0, adapterErr("dynamodb", "clear", err)
	}
	return removed, nil
}

// Keys lists live keys in lexical order, optionally filtered by a glob.
func (d *DynamoDBAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	client, err := d.conn()
	if err != nil {
		return nil, adapterErr("dynamodb", "keys", err)
	}

	items, err := d.scanItems(ctx, client)
	if err != nil {
		return nil, adapterErr("dynamodb", "keys", err)
	}

	now := time.Now()
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if !dynamoExpired(item.ExpiresAt, now) {
			keys = append(keys, item.Key)
		}
	}
	matched, err := matchKeys(keys, pattern)
	if err != nil {
		return nil, adapterErr("dynamodb", "keys", err)
	}
	sort.Strings(matched)
	return matched, nil
}

// Stats reports the live item count.
func (d *DynamoDBAdapter) Stats(ctx context.Context) (Stats, error) {
	client, err := d.conn()
	if err != nil {
		return Stats{}, adapterErr("dynamodb", "stats", err)
	}

	items, err := d.scanItems(ctx, client)
	if err != nil {
		return Stats{}, adapterErr("dynamodb", "stats", err)
	}

	now := time.Now()
	live := 0
	for _, item := range items {
		if !dynamoExpired(item.ExpiresAt, now) {
			live++
		}
	}

	return Stats{
		Backend: "dynamodb",
		Size:    live,
		Details: map[string]any{
			"total_entries": len(items),
			"table":         d.tableName,
			"region":        d.region,
		},
	}, nil
}

// Ping checks if the table is accessible.
func (d *DynamoDBAdapter) Ping(ctx context.Context) error {
	client, err := d.conn()
	if err != nil {
		return adapterErr("dynamodb", "ping", err)
	}

	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return adapterErr("dynamodb", "ping", err)
	}
	return nil
}

// Sweep removes all expired items and returns the number removed.
// DynamoDB's own TTL reclamation is eventual; the sweep makes reclaim
// deterministic for callers that schedule Cleanup.
func (d *DynamoDBAdapter) Sweep(ctx context.Context) (int, error) {
	client, err := d.conn()
	if err != nil {
		return 0, adapterErr("dynamodb", "sweep", err)
	}

	items, err := d.scanItems(ctx, client)
	if err != nil {
		return 0, adapterErr("dynamodb", "sweep", err)
	}

	now := time.Now()
	var expiredKeys []string
	for _, item := range items {
		if dynamoExpired(item.ExpiresAt, now) {
			expiredKeys = append(expiredKeys, item.Key)
		}
	}
	if err := d.deleteKeys(ctx, client, expiredKeys); err != nil {
		return 0, adapterErr("dynamodb", "sweep", err)
	}
	return len(expiredKeys), nil
}
