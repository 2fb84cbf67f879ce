package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design. Scheduled posts
// carry no TTL: they live until dispatched or removed.
const (
	pkPrefix = "SCHEDULE#"
	skPost   = "POST#"
)

// DynamoStore implements Store on DynamoDB, one item per post under the
// subject's partition.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func subjectPK(subjectID string) string {
	return pkPrefix + subjectID
}

func (s *DynamoStore) Add(ctx context.Context, post *Post) error {
	item, err := attributevalue.MarshalMap(post)
	if err != nil {
		return fmt.Errorf("marshal scheduled post: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: subjectPK(post.SubjectID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skPost + post.ID}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put scheduled post %s/%s: %w", post.SubjectID, post.ID, err)
	}

	log.Debug().
		Str("subjectId", post.SubjectID).
		Str("postId", post.ID).
		Int64("scheduleTime", post.ScheduleTime).
		Int("images", len(post.ImageIDs)).
		Msg("Scheduled post persisted")
	return nil
}

func (s *DynamoStore) ListBySubject(ctx context.Context, subjectID string) ([]*Post, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: subjectPK(subjectID)},
			":skPrefix": &types.AttributeValueMemberS{Value: skPost},
		},
	}

	var posts []*Post
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query scheduled posts for %s: %w", subjectID, err)
		}
		for _, item := range result.Items {
			post, err := postFromItem(item)
			if err != nil {
				log.Warn().Err(err).Str("subjectId", subjectID).Msg("Failed to unmarshal scheduled post, skipping")
				continue
			}
			posts = append(posts, post)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sortByCreation(posts)
	return posts, nil
}

// sortByCreation orders posts oldest-scheduled-first. The query comes
// back in SK order, which is lexical over random post IDs, not the
// order the posts were created in.
func sortByCreation(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt < posts[j].CreatedAt
		}
		return posts[i].ID < posts[j].ID
	})
}

func (s *DynamoStore) ListAll(ctx context.Context) ([]*Post, error) {
	input := &dynamodb.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: aws.String("begins_with(PK, :pkPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pkPrefix": &types.AttributeValueMemberS{Value: pkPrefix},
		},
	}

	var posts []*Post
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled posts: %w", err)
		}
		for _, item := range result.Items {
			post, err := postFromItem(item)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to unmarshal scheduled post, skipping")
				continue
			}
			post.ParentSubjectID = post.SubjectID
			posts = append(posts, post)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sortByCreation(posts)
	return posts, nil
}

func (s *DynamoStore) Remove(ctx context.Context, subjectID, postID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: subjectPK(subjectID)},
			"SK": &types.AttributeValueMemberS{Value: skPost + postID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete scheduled post %s/%s: %w", subjectID, postID, err)
	}

	log.Debug().Str("subjectId", subjectID).Str("postId", postID).Msg("Scheduled post removed")
	return nil
}

func (s *DynamoStore) DueBefore(ctx context.Context, t time.Time) ([]*Post, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := t.Unix()
	var due []*Post
	for _, p := range all {
		if p.ScheduleTime <= cutoff {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduleTime < due[j].ScheduleTime })
	return due, nil
}

// postFromItem unmarshals a post and restores the IDs carried in PK/SK.
func postFromItem(item map[string]types.AttributeValue) (*Post, error) {
	var post Post
	if err := attributevalue.UnmarshalMap(item, &post); err != nil {
		return nil, err
	}
	if pkAttr, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		post.SubjectID = strings.TrimPrefix(pkAttr.Value, pkPrefix)
	}
	if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
		post.ID = strings.TrimPrefix(skAttr.Value, skPost)
	}
	return &post, nil
}
