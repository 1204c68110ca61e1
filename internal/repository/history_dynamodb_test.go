package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chatbot-agent/internal/domain"
)

// fakeDynamo is a tiny in-memory table keyed by PK/SK that understands the
// query shapes HistoryClient issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	putErr        error
	queryErr      error
	batchErr      error
	unprocessedN  int // BatchWriteItem calls that bounce every request
	batchCalls    int
	queryPageSize int
	lastPutInput  *dynamodb.PutItemInput
	lastQueryIn   *dynamodb.QueryInput
	lastBatchIn   *dynamodb.BatchWriteItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func keyString(item map[string]types.AttributeValue, k string) string {
	return item[k].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk, sk := keyString(in.Item, "PK"), keyString(in.Item, "SK")
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	f.items[pk][sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	sks := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(sks)))
	}

	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyString(in.ExclusiveStartKey, "SK")
		for i, sk := range sks {
			if sk == last {
				start = i + 1
				break
			}
		}
	}
	sks = sks[start:]

	limit := len(sks)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	paged := false
	if f.queryPageSize > 0 && f.queryPageSize < limit {
		limit = f.queryPageSize
		paged = true
	}

	out := &dynamodb.QueryOutput{}
	for _, sk := range sks[:limit] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	if paged && limit < len(sks) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": stringValue(pk),
			"SK": stringValue(sks[limit-1]),
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBatchIn = in
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.unprocessedN > 0 {
		f.unprocessedN--
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}
	for _, reqs := range in.RequestItems {
		for _, r := range reqs {
			pk, sk := keyString(r.DeleteRequest.Key, "PK"), keyString(r.DeleteRequest.Key, "SK")
			delete(f.items[pk], sk)
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) count(pk string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[pk])
}

func mustNewHistoryClient(t *testing.T, db *fakeDynamo, max int) *HistoryClient {
	t.Helper()
	c, err := NewHistoryClient(db, "history-table", max)
	require.NoError(t, err)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var n int
	c.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Millisecond) }
	return c
}

func TestNewHistoryClient_Validation(t *testing.T) {
	_, err := NewHistoryClient(nil, "t", 10)
	require.Error(t, err)

	_, err = NewHistoryClient(newFakeDynamo(), " ", 10)
	require.Error(t, err)

	c, err := NewHistoryClient(newFakeDynamo(), "t", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultHistoryLimit, c.maxRecords)
}

func TestHistoryAppend_WritesItem(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 10)

	require.NoError(t, c.Append(context.Background(), "user-1", "hello", domain.RoleUser))

	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "history-table", *db.lastPutInput.TableName)
	require.Equal(t, "HIST#user-1", keyString(db.lastPutInput.Item, "PK"))
	require.Contains(t, keyString(db.lastPutInput.Item, "SK"), "TURN#")
	require.Equal(t, "hello", keyString(db.lastPutInput.Item, "text"))
	require.Equal(t, "user", keyString(db.lastPutInput.Item, "role"))
	require.Contains(t, *db.lastPutInput.ConditionExpression, "attribute_not_exists")
	_, hasTTL := db.lastPutInput.Item["ttl"]
	require.False(t, hasTTL, "records expire only through eviction")
}

func TestHistoryAppend_RequiresIdentity(t *testing.T) {
	c := mustNewHistoryClient(t, newFakeDynamo(), 10)
	err := c.Append(context.Background(), "  ", "hello", domain.RoleUser)
	require.Error(t, err)
}

func TestHistoryAppend_PutError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("boom")
	c := mustNewHistoryClient(t, db, 10)

	err := c.Append(context.Background(), "user-1", "hello", domain.RoleUser)
	require.Error(t, err)
	require.Contains(t, err.Error(), "put item")
}

func TestHistoryAppend_EvictsOldest(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Append(ctx, "user-1", fmt.Sprintf("q%d", i), domain.RoleUser))
	}
	require.Equal(t, 3, db.count("HIST#user-1"))

	recs, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "q3", recs[0].Text)
	require.Equal(t, "q4", recs[1].Text)
	require.Equal(t, "q5", recs[2].Text)
}

func TestHistoryAppend_EvictionIsPerIdentity(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 2)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "other", "keep", domain.RoleUser))
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Append(ctx, "user-1", fmt.Sprintf("q%d", i), domain.RoleUser))
	}
	require.Equal(t, 2, db.count("HIST#user-1"))
	require.Equal(t, 1, db.count("HIST#other"))
}

func TestHistoryAppend_PrunePaginates(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 2)
	ctx := context.Background()

	// Seed past the bound without pruning, then prune through small pages.
	for i := 0; i < 6; i++ {
		stamp := c.nextStamp()
		pk := historyPK("user-1")
		sk := turnSK(stamp, fmt.Sprintf("id-%d", i))
		if db.items[pk] == nil {
			db.items[pk] = map[string]map[string]types.AttributeValue{}
		}
		db.items[pk][sk] = map[string]types.AttributeValue{"PK": stringValue(pk), "SK": stringValue(sk)}
	}
	db.queryPageSize = 2

	require.NoError(t, c.prune(ctx, "user-1"))
	require.Equal(t, 2, db.count("HIST#user-1"))
}

func TestHistoryAppend_RetriesUnprocessed(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 1)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "user-1", "q1", domain.RoleUser))
	db.unprocessedN = 1
	require.NoError(t, c.Append(ctx, "user-1", "q2", domain.RoleUser))
	require.Equal(t, 2, db.batchCalls)
	require.Equal(t, 1, db.count("HIST#user-1"))
}

func TestHistoryAppend_UnprocessedExhausted(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 1)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "user-1", "q1", domain.RoleUser))
	db.unprocessedN = maxBatchWriteRounds
	err := c.Append(ctx, "user-1", "q2", domain.RoleUser)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unprocessed")
}

func TestHistoryRecent_QueryShape(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 10)

	_, err := c.Recent(context.Background(), "user-1", 4)
	require.NoError(t, err)
	require.NotNil(t, db.lastQueryIn)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.True(t, *db.lastQueryIn.ConsistentRead)
	require.Equal(t, int32(4), *db.lastQueryIn.Limit)
}

func TestHistoryRecent_LimitClampedToMax(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 3)

	_, err := c.Recent(context.Background(), "user-1", 50)
	require.NoError(t, err)
	require.Equal(t, int32(3), *db.lastQueryIn.Limit)
}

func TestHistoryRecent_SmallerLimitReturnsNewest(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 10)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.Append(ctx, "user-1", fmt.Sprintf("q%d", i), domain.RoleUser))
	}
	recs, err := c.Recent(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "q3", recs[0].Text)
	require.Equal(t, "q4", recs[1].Text)
}

func TestHistoryRecent_IsIdempotent(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewHistoryClient(t, db, 10)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "user-1", "q1", domain.RoleUser))
	require.NoError(t, c.Append(ctx, "user-1", "a1", domain.RoleAssistant))

	first, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	second, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, domain.RoleAssistant, second[1].Role)
}

func TestHistoryRecent_QueryError(t *testing.T) {
	db := newFakeDynamo()
	db.queryErr = errors.New("db down")
	c := mustNewHistoryClient(t, db, 10)

	_, err := c.Recent(context.Background(), "user-1", 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Recent query")
}

func TestItemToRecord_MissingText(t *testing.T) {
	_, err := itemToRecord(map[string]types.AttributeValue{
		"identity": stringValue("u"),
		"seq":      numberValue(1),
	})
	require.Error(t, err)
}

func TestItemToRecord_CreatedAtFallsBackToSeq(t *testing.T) {
	rec, err := itemToRecord(map[string]types.AttributeValue{
		"identity": stringValue("u"),
		"text":     stringValue("hi"),
		"seq":      numberValue(1_000_000_000),
	})
	require.NoError(t, err)
	require.Equal(t, time.Unix(1, 0).UTC(), rec.CreatedAt)
	require.Equal(t, domain.RoleUser, rec.Role)
}

func TestNextStamp_StrictlyIncreasing(t *testing.T) {
	c, err := NewHistoryClient(newFakeDynamo(), "t", 10)
	require.NoError(t, err)
	fixed := time.Unix(100, 0)
	c.now = func() time.Time { return fixed }

	a := c.nextStamp()
	b := c.nextStamp()
	require.Greater(t, b, a)
}
