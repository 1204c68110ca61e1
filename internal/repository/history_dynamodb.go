package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"chatbot-agent/internal/domain"
)

const (
	// DefaultHistoryLimit is the number of records retained per identity.
	DefaultHistoryLimit = 10

	historyPKPrefix = "HIST#"
	skPrefixTurn    = "TURN#"

	batchWriteLimit     = 25
	maxBatchWriteRounds = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by HistoryClient.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// HistoryClient keeps a bounded, per-identity turn log in a DynamoDB table.
// Items share a partition per identity and sort by a zero-padded creation
// stamp, so a descending query yields newest-first.
type HistoryClient struct {
	api        dynamodbAPI
	tableName  string
	maxRecords int

	now   func() time.Time
	newID func() string

	stampMu   sync.Mutex
	lastStamp int64
}

// NewHistoryClient creates a HistoryClient retaining maxRecords per identity.
func NewHistoryClient(api dynamodbAPI, tableName string, maxRecords int) (*HistoryClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if maxRecords <= 0 {
		maxRecords = DefaultHistoryLimit
	}
	return &HistoryClient{
		api:        api,
		tableName:  tableName,
		maxRecords: maxRecords,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// historyPK returns the partition key for an identity's history.
func historyPK(identity string) string {
	return historyPKPrefix + identity
}

// turnSK builds a sort key that orders by stamp and then by a random suffix
// that only matters if two writers collide on the same nanosecond.
func turnSK(stamp int64, id string) string {
	return fmt.Sprintf("%s%020d#%s", skPrefixTurn, stamp, id)
}

// nextStamp returns a strictly increasing nanosecond stamp so records
// appended by this process keep their insertion order.
func (c *HistoryClient) nextStamp() int64 {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()
	n := c.now().UTC().UnixNano()
	if n <= c.lastStamp {
		n = c.lastStamp + 1
	}
	c.lastStamp = n
	return n
}

// Append writes one record and evicts everything older than the newest
// maxRecords for the identity. Items carry no expiry attribute; eviction is
// the only way a record leaves the table.
func (c *HistoryClient) Append(ctx context.Context, identity, text string, role domain.Role) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("repository: Append: identity is required")
	}

	stamp := c.nextStamp()
	created := time.Unix(0, stamp).UTC()
	item := map[string]types.AttributeValue{
		"PK":        stringValue(historyPK(identity)),
		"SK":        stringValue(turnSK(stamp, c.newID())),
		"identity":  stringValue(identity),
		"role":      stringValue(string(role)),
		"text":      stringValue(text),
		"seq":       numberValue(stamp),
		"createdAt": stringValue(created.Format(time.RFC3339Nano)),
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append put item: %w", err)
	}

	if err := c.prune(ctx, identity); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// prune deletes all records for identity beyond the newest maxRecords.
func (c *HistoryClient) prune(ctx context.Context, identity string) error {
	var (
		stale    []map[string]types.AttributeValue
		seen     int
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     stringValue(historyPK(identity)),
				":prefix": stringValue(skPrefixTurn),
			},
			ProjectionExpression: aws.String("PK, SK"),
			ScanIndexForward:     aws.Bool(false),
			ConsistentRead:       aws.Bool(true),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("prune query: %w", err)
		}
		for _, item := range out.Items {
			seen++
			if seen <= c.maxRecords {
				continue
			}
			stale = append(stale, map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	for start := 0; start < len(stale); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(stale) {
			end = len(stale)
		}
		if err := c.deleteKeys(ctx, stale[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *HistoryClient) deleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}
	pending := map[string][]types.WriteRequest{c.tableName: requests}

	// Unprocessed items are part of the batch contract; they are re-sent a
	// bounded number of times before the prune is reported as failed.
	for round := 0; round < maxBatchWriteRounds; round++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("prune batch delete: %w", err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("prune batch delete: %d items left unprocessed", len(pending[c.tableName]))
}

// Recent returns up to limit of the newest records for identity in
// ascending creation order. With limit below the stored count the oldest
// records are the ones left out, never the newest.
func (c *HistoryClient) Recent(ctx context.Context, identity string, limit int) ([]domain.HistoryRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("repository: Recent: identity is required")
	}
	if limit <= 0 || limit > c.maxRecords {
		limit = c.maxRecords
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     stringValue(historyPK(identity)),
			":prefix": stringValue(skPrefixTurn),
		},
		// Read newest first so LIMIT favors the most recent records.
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}

	records := make([]domain.HistoryRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Recent unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	// Reverse to chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func itemToRecord(item map[string]types.AttributeValue) (domain.HistoryRecord, error) {
	identity, err := strAttr(item, "identity")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	seq, err := int64Attr(item, "seq")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, optStrAttr(item, "createdAt"))
	if err != nil {
		created = time.Unix(0, seq).UTC()
	}
	return domain.HistoryRecord{
		Identity:  identity,
		Role:      domain.ParseRole(optStrAttr(item, "role")), // allow empty
		Text:      text,
		Seq:       seq,
		CreatedAt: created,
	}, nil
}
