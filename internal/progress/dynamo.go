package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "PUBLISH#"
	skMeta   = "META"

	// markReadyAttempts bounds the optimistic retry loop when several
	// pollers mark containers ready on the same record at once.
	markReadyAttempts = 3
)

// DynamoStore implements Store on a DynamoDB table with a TTL attribute
// (expiresAt) enabled. BeginPublishing relies on a conditional update,
// so only one concurrent claimant ever wins.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func recordPK(key string) string {
	return pkPrefix + key
}

func (s *DynamoStore) recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: recordPK(key)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func (s *DynamoStore) Create(ctx context.Context, key string, containerIDs []string, caption string) (*Record, error) {
	rec := Record{
		Key:               key,
		TotalContainers:   len(containerIDs),
		PendingContainers: append([]string(nil), containerIDs...),
		ContainerIDs:      append([]string(nil), containerIDs...),
		Caption:           caption,
		CreatedAt:         time.Now().Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", key, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: recordPK(key)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(RecordTTL).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return nil, fmt.Errorf("put processing record %s: %w", key, err)
	}

	log.Debug().Str("processingKey", key).Int("containers", len(containerIDs)).Msg("Processing record persisted")
	return &rec, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       s.recordKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get processing record %s: %w", key, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	// TTL deletion is lazy on DynamoDB's side; treat an expired item as
	// already gone so callers see a consistent not-found.
	if attr, ok := result.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if exp, perr := strconv.ParseInt(attr.Value, 10, 64); perr == nil && exp < time.Now().Unix() {
			return nil, nil
		}
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal processing record %s: %w", key, err)
	}
	rec.Key = key
	return &rec, nil
}

// MarkReady removes containerID from the pending list with an optimistic
// read-modify-write: the update is conditioned on the ready count the
// read observed, and retried when a concurrent poller got there first.
func (s *DynamoStore) MarkReady(ctx context.Context, key, containerID string) (*Record, error) {
	for attempt := 0; attempt < markReadyAttempts; attempt++ {
		rec, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("processing record %s not found", key)
		}

		idx := -1
		for i, id := range rec.PendingContainers {
			if id == containerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Already marked ready by an earlier call.
			return rec, nil
		}

		oldReady := rec.ReadyContainers
		newPending := append(append([]string(nil), rec.PendingContainers[:idx]...), rec.PendingContainers[idx+1:]...)

		pendingAttr, err := attributevalue.Marshal(newPending)
		if err != nil {
			return nil, fmt.Errorf("marshal pending list: %w", err)
		}

		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           &s.tableName,
			Key:                 s.recordKey(key),
			UpdateExpression:    aws.String("SET readyContainers = :newReady, pendingContainers = :pending, expiresAt = :exp"),
			ConditionExpression: aws.String("readyContainers = :oldReady"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":newReady": &types.AttributeValueMemberN{Value: strconv.Itoa(oldReady + 1)},
				":oldReady": &types.AttributeValueMemberN{Value: strconv.Itoa(oldReady)},
				":pending":  pendingAttr,
				":exp":      &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(RecordTTL).Unix(), 10)},
			},
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				continue // concurrent update; re-read and retry
			}
			return nil, fmt.Errorf("mark container ready %s/%s: %w", key, containerID, err)
		}

		rec.ReadyContainers = oldReady + 1
		rec.PendingContainers = newPending
		return rec, nil
	}

	return nil, fmt.Errorf("mark container ready %s/%s: contention not resolved after %d attempts", key, containerID, markReadyAttempts)
}

// BeginPublishing claims the publish step with a conditional update:
// the write succeeds only when every container is ready and no other
// caller has claimed it. The condition failure is disambiguated with a
// follow-up read.
func (s *DynamoStore) BeginPublishing(ctx context.Context, key string) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.recordKey(key),
		UpdateExpression:    aws.String("SET publishing = :true, expiresAt = :exp"),
		ConditionExpression: aws.String("attribute_exists(PK) AND publishing = :false AND published = :false AND size(pendingContainers) = :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":exp":   &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(RecordTTL).Unix(), 10)},
		},
	})
	if err == nil {
		log.Debug().Str("processingKey", key).Msg("Publish claim acquired")
		return true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, fmt.Errorf("begin publishing %s: %w", key, err)
	}

	rec, gerr := s.Get(ctx, key)
	if gerr != nil {
		return false, gerr
	}
	if rec == nil {
		return false, fmt.Errorf("processing record %s not found", key)
	}
	if len(rec.PendingContainers) > 0 {
		return false, ErrNotReady
	}
	// All ready but the claim is held (or already completed) elsewhere.
	return false, nil
}

func (s *DynamoStore) Complete(ctx context.Context, key string, outcome Outcome) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.recordKey(key),
		UpdateExpression: aws.String("SET published = :pub, mediaId = :media, permalink = :link, errorMessage = :errMsg, expiresAt = :exp"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pub":    &types.AttributeValueMemberBOOL{Value: outcome.Published},
			":media":  &types.AttributeValueMemberS{Value: outcome.MediaID},
			":link":   &types.AttributeValueMemberS{Value: outcome.Permalink},
			":errMsg": &types.AttributeValueMemberS{Value: outcome.ErrorMessage},
			":exp":    &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(RecordTTL).Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("complete processing record %s: %w", key, err)
	}

	log.Debug().Str("processingKey", key).Bool("published", outcome.Published).Msg("Processing record completed")
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.recordKey(key),
	})
	if err != nil {
		return fmt.Errorf("delete processing record %s: %w", key, err)
	}
	return nil
}
