package dynamodb

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

// max items per BatchWriteItem request
const batchWriteLimit = 25

// Config defines the configuration options for the DynamoDB storage
// implementation.
type Config struct {
	DeleteExpiredItems bool // Controls if the expired_at TTL property is put in the database to allow automatic deletion of expired items

	ItemExpiration time.Duration // How long an item stays valid in the database, independent of the worker's own eviction logic
	Table          string
}

// Storage implements the goswcache.Storage interface using Amazon DynamoDB as
// the backend. Cache generations share one table with a composite key of the
// store name and the entry URL.
type Storage struct {
	client *dynamodb.Client

	table      string
	ttl        bool
	expiration time.Duration
	now        func() time.Time
}

type cacheItem struct {
	StoreName string `json:"store_name" dynamodbav:"store_name"`
	URL       string `json:"url" dynamodbav:"url"`
	Entry     []byte `json:"entry" dynamodbav:"entry"`
	CreatedAt int64  `json:"created_at" dynamodbav:"created_at"`
	ExpiredAt int64  `json:"expired_at,omitempty" dynamodbav:"expired_at,omitempty"`
}

func (p *Storage) Open(_ context.Context, name string) (goswcache.Store, error) {
	return &store{parent: p, name: name}, nil
}

func (p *Storage) List(ctx context.Context) ([]string, error) {
	var names []string
	seen := map[string]struct{}{}

	var startKey map[string]types.AttributeValue
	for {
		output, err := p.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(p.table),
			ProjectionExpression: aws.String("store_name"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range output.Items {
			var row struct {
				StoreName string `dynamodbav:"store_name"`
			}
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, err
			}
			if _, dup := seen[row.StoreName]; dup {
				continue
			}
			seen[row.StoreName] = struct{}{}
			names = append(names, row.StoreName)
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	return names, nil
}

func (p *Storage) Remove(ctx context.Context, name string) error {
	st := &store{parent: p, name: name}
	keys, err := st.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return caches.ErrNoStore
	}

	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			key, err := itemKey(name, k)
			if err != nil {
				return err
			}
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		_, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				p.table: requests,
			},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

type store struct {
	parent *Storage
	name   string
}

// Match retrieves a cache entry from DynamoDB by its key. Returns
// caches.ErrNoCacheItem if the entry doesn't exist.
func (s *store) Match(ctx context.Context, k string) (*goswcache.Entry, error) {
	key, err := itemKey(s.name, k)
	if err != nil {
		return nil, err
	}

	output, err := s.parent.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            key,
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(s.parent.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	var ent goswcache.Entry
	if err := gobDecode(item.Entry, &ent); err != nil {
		return nil, err
	}

	return &ent, nil
}

// Put stores a cache entry in DynamoDB, replacing any previous entry for the
// key. The entry payload is gob-encoded.
func (s *store) Put(ctx context.Context, k string, e *goswcache.Entry) error {
	createdAt := s.parent.now()

	encEntry, err := gobEncode(e)
	if err != nil {
		return err
	}

	i := cacheItem{
		StoreName: s.name,
		URL:       k,
		Entry:     encEntry,
		CreatedAt: createdAt.Unix(),
	}
	if s.parent.ttl {
		i.ExpiredAt = createdAt.Add(s.parent.expiration).Unix()
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	input := dynamodb.PutItemInput{
		TableName: aws.String(s.parent.table),
		Item:      av,
	}

	_, err = s.parent.client.PutItem(ctx, &input)
	return err
}

func (s *store) Delete(ctx context.Context, k string) error {
	key, err := itemKey(s.name, k)
	if err != nil {
		return err
	}

	_, err = s.parent.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.parent.table),
		Key:       key,
	})
	return err
}

func (s *store) Keys(ctx context.Context) ([]string, error) {
	nameAttr, err := attributevalue.Marshal(s.name)
	if err != nil {
		return nil, err
	}

	var keys []string
	var startKey map[string]types.AttributeValue
	for {
		output, err := s.parent.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.parent.table),
			KeyConditionExpression: aws.String("store_name = :store_name"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":store_name": nameAttr,
			},
			ProjectionExpression: aws.String("#u"),
			ExpressionAttributeNames: map[string]string{
				"#u": "url",
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range output.Items {
			var row struct {
				URL string `dynamodbav:"url"`
			}
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, err
			}
			keys = append(keys, row.URL)
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	return keys, nil
}

func itemKey(name, url string) (map[string]types.AttributeValue, error) {
	nameAttr, err := attributevalue.Marshal(name)
	if err != nil {
		return nil, err
	}
	urlAttr, err := attributevalue.Marshal(url)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"store_name": nameAttr,
		"url":        urlAttr,
	}, nil
}

// New creates a new DynamoDB storage instance with the provided
// configuration. It validates the configuration and sets default values where
// appropriate. Returns an error if the client is nil or if the configuration
// is invalid.
func New(ctx context.Context, client *dynamodb.Client, config *Config) (*Storage, error) {
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

	var itemExpiration time.Duration
	if config.ItemExpiration == 0 {
		itemExpiration = caches.DefaultExpiredDuration
	} else {
		itemExpiration = config.ItemExpiration
	}

	return &Storage{
		client: client,

		table:      config.Table,
		ttl:        config.DeleteExpiredItems,
		expiration: itemExpiration,
		now:        time.Now,
	}, nil
}

func gobEncode(v any) ([]byte, error) {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(v); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
