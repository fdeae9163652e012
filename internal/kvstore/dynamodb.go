package kvstore

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// DynamoDBKVStore stores values in a table keyed by the "key" attribute.
// Expiry uses the "ttl" attribute and is also checked on read since
// DynamoDB removes expired items lazily.
type DynamoDBKVStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
	closed    bool
}

// NewDynamoDBKVStore loads the default AWS configuration for cfg.Region,
// overrides the credentials and endpoint when cfg sets them, and checks the
// table with DescribeTable.
func NewDynamoDBKVStore(ctx context.Context, cfg KVStoreConfig) (*DynamoDBKVStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxRetries+1))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	timeout := time.Duration(cfg.DialTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	describeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := client.DescribeTable(describeCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to reach DynamoDB table %s: %w", cfg.TableName, err)
	}

	return &DynamoDBKVStore{
		client:    client,
		tableName: cfg.TableName,
		logger:    logger.Named("dynamodb"),
	}, nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}}
}

// expired reports whether an item's ttl attribute lies in the past.
func expired(item map[string]types.AttributeValue) bool {
	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && time.Now().Unix() > ttl
}

func item(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	it := keyAttr(key)
	it["value"] = &types.AttributeValueMemberB{Value: value}
	it["created_at"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}
	if ttl > 0 {
		it["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}
	}
	return it
}

func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed {
		return nil, ErrStoreClosed
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		d.logger.Error("get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(out.Item) == 0 || expired(out.Item) {
		d.logger.Debug("key not found", zap.String("key", key))
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	value, ok := out.Item["value"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("key %s holds a non-binary value", key)
	}
	d.logger.Debug("get", zap.String("key", key), zap.Int("bytes", len(value.Value)))
	return value.Value, nil
}

func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed {
		return ErrStoreClosed
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item(key, value, ttl),
	}); err != nil {
		d.logger.Error("set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	d.logger.Debug("set", zap.String("key", key), zap.Int("bytes", len(value)), zap.Duration("ttl", ttl))
	return nil
}

func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if d.closed {
		return ErrStoreClosed
	}
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       keyAttr(key),
	}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed {
		return false, ErrStoreClosed
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       keyAttr(key),
		// key and ttl are reserved words.
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": "key", "#t": "ttl"},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return len(out.Item) > 0 && !expired(out.Item), nil
}

// BatchSet writes items in BatchWriteItem chunks, resubmitting unprocessed
// requests. Items are not written atomically.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if d.closed {
		return ErrStoreClosed
	}
	requests := make([]types.WriteRequest, 0, len(items))
	for key, value := range items {
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item(key, value, ttl)}})
	}

	for chunk := range slices.Chunk(requests, maxBatchWrite) {
		pending := map[string][]types.WriteRequest{d.tableName: chunk}
		for len(pending[d.tableName]) > 0 {
			out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("failed to write %d keys: %w", len(items), err)
			}
			pending = out.UnprocessedItems
			if n := len(pending[d.tableName]); n > 0 {
				d.logger.Debug("resubmitting unprocessed writes", zap.Int("count", n))
			}
		}
	}
	return nil
}

// Close marks the store closed. The SDK client holds no connections to release.
func (d *DynamoDBKVStore) Close() error {
	d.closed = true
	return nil
}

// DynamoDBKVStoreFactory builds DynamoDBKVStore instances.
type DynamoDBKVStoreFactory struct{}

func (f *DynamoDBKVStoreFactory) Type() string { return "dynamodb" }

func (f *DynamoDBKVStoreFactory) Validate(config KVStoreConfig) error {
	switch {
	case config.Type != "dynamodb":
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	case config.Region == "":
		return fmt.Errorf("region is required for DynamoDB")
	case config.TableName == "":
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return validateTimeouts(config)
}

func (f *DynamoDBKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewDynamoDBKVStore(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	register(&DynamoDBKVStoreFactory{})
}
