// Package dynamodb provides DynamoDB-backed cache namespaces.
package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	offlinecache "github.com/audiomark/offline-cache"
	"github.com/audiomark/offline-cache/caches"
)

// Config defines the configuration options for the DynamoDB provider.
type Config struct {
	// Table is the DynamoDB table holding every namespace. Its hash key is
	// "namespace" and its range key is "cache_key".
	Table string
}

// Provider implements the offlinecache.Provider interface using Amazon
// DynamoDB as the storage backend. One table holds every namespace;
// per-item PutItem calls give atomic last-write-wins semantics per key.
type Provider struct {
	client *dynamodb.Client

	table string
	now   func() time.Time
}

type cacheItem struct {
	Namespace string `dynamodbav:"namespace"`
	CacheKey  string `dynamodbav:"cache_key"`
	Response  []byte `dynamodbav:"response"`
	StoredAt  int64  `dynamodbav:"stored_at"`
}

// New creates a new DynamoDB provider with the provided configuration.
// Returns an error if the client is nil or the table name is empty.
func New(client *dynamodb.Client, config *Config) (*Provider, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}
	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "empty table name",
		}
	}

	return &Provider{
		client: client,

		table: config.Table,
		now:   time.Now,
	}, nil
}

func (p *Provider) Open(_ context.Context, name string) (offlinecache.Store, error) {
	return &Store{provider: p, namespace: name}, nil
}

// Names scans the table projecting only the hash key and de-duplicates.
func (p *Provider) Names(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	var startKey map[string]types.AttributeValue
	for {
		output, err := p.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(p.table),
			ProjectionExpression:     aws.String("#ns"),
			ExpressionAttributeNames: map[string]string{"#ns": "namespace"},
			ExclusiveStartKey:        startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, raw := range output.Items {
			var item cacheItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, err
			}
			if !seen[item.Namespace] {
				seen[item.Namespace] = true
				names = append(names, item.Namespace)
			}
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		startKey = output.LastEvaluatedKey
	}
	return names, nil
}

// Drop deletes every item in the namespace, one key page at a time.
func (p *Provider) Drop(ctx context.Context, name string) error {
	store := &Store{provider: p, namespace: name}
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Store is a single namespace view over the provider's table.
type Store struct {
	provider  *Provider
	namespace string
}

func (s *Store) key(cacheKey string) (map[string]types.AttributeValue, error) {
	ns, err := attributevalue.Marshal(s.namespace)
	if err != nil {
		return nil, err
	}
	ck, err := attributevalue.Marshal(cacheKey)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"namespace": ns,
		"cache_key": ck,
	}, nil
}

func (s *Store) Get(ctx context.Context, cacheKey string) (*offlinecache.Item, error) {
	key, err := s.key(cacheKey)
	if err != nil {
		return nil, err
	}

	output, err := s.provider.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            key,
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(s.provider.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, offlinecache.ErrNotFound
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	return &offlinecache.Item{
		Response: item.Response,
		StoredAt: time.Unix(item.StoredAt, 0).UTC(),
	}, nil
}

func (s *Store) Set(ctx context.Context, cacheKey string, item *offlinecache.Item) error {
	storedAt := item.StoredAt
	if storedAt.IsZero() {
		storedAt = s.provider.now()
	}

	av, err := attributevalue.MarshalMap(cacheItem{
		Namespace: s.namespace,
		CacheKey:  cacheKey,
		Response:  item.Response,
		StoredAt:  storedAt.UTC().Unix(),
	})
	if err != nil {
		return err
	}

	_, err = s.provider.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.provider.table),
		Item:      av,
	})
	return err
}

func (s *Store) Delete(ctx context.Context, cacheKey string) error {
	key, err := s.key(cacheKey)
	if err != nil {
		return err
	}

	_, err = s.provider.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.provider.table),
		Key:       key,
	})
	return err
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ns, err := attributevalue.Marshal(s.namespace)
	if err != nil {
		return nil, err
	}

	var keys []string
	var startKey map[string]types.AttributeValue
	for {
		output, err := s.provider.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.provider.table),
			KeyConditionExpression:    aws.String("#ns = :ns"),
			ExpressionAttributeNames:  map[string]string{"#ns": "namespace"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":ns": ns},
			ProjectionExpression:      aws.String("cache_key"),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, raw := range output.Items {
			var item cacheItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, err
			}
			keys = append(keys, item.CacheKey)
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		startKey = output.LastEvaluatedKey
	}
	return keys, nil
}
