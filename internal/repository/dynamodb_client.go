package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-checkout/internal/domain"
)

const (
	skPayment   = "PAYMENT#"
	ttlDuration = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore is a SessionStore backed by a DynamoDB table, for deployments
// where init and confirm may land on different processes.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore over the given table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func sessionKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: skPayment},
	}
}

// Save writes or replaces the session record.
func (s *DynamoStore) Save(ctx context.Context, conversationID, paymentIntentID string) error {
	if err := validateSession(conversationID, paymentIntentID); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      sessionItem(s.newSession(conversationID, paymentIntentID)),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// SaveIfAbsent writes the session record unless a live one exists. A record
// past its TTL that DynamoDB has not swept yet counts as absent.
func (s *DynamoStore) SaveIfAbsent(ctx context.Context, conversationID, paymentIntentID string) error {
	if err := validateSession(conversationID, paymentIntentID); err != nil {
		return fmt.Errorf("repository: SaveIfAbsent: %w", err)
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     sessionItem(s.newSession(conversationID, paymentIntentID)),
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrSessionExists
		}
		return fmt.Errorf("repository: SaveIfAbsent: %w", err)
	}
	return nil
}

func (s *DynamoStore) newSession(conversationID, paymentIntentID string) domain.ConversationSession {
	return domain.ConversationSession{
		ConversationID:  conversationID,
		PaymentIntentID: paymentIntentID,
		TTL:             s.now().Add(ttlDuration).Unix(),
	}
}

// Get returns ErrSessionNotFound when no record exists or the record has expired
// but not yet been swept by DynamoDB TTL.
func (s *DynamoStore) Get(ctx context.Context, conversationID string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            sessionKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", ErrSessionNotFound
	}
	session, err := itemToSession(out.Item)
	if err != nil {
		return "", fmt.Errorf("repository: Get decode: %w", err)
	}
	if session.TTL > 0 && session.TTL < s.now().Unix() {
		return "", ErrSessionNotFound
	}
	return session.PaymentIntentID, nil
}

func (s *DynamoStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       sessionKey(conversationID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func sessionItem(session domain.ConversationSession) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: convPK(session.ConversationID)},
		"SK":              &types.AttributeValueMemberS{Value: skPayment},
		"conversationId":  &types.AttributeValueMemberS{Value: session.ConversationID},
		"paymentIntentId": &types.AttributeValueMemberS{Value: session.PaymentIntentID},
		"ttl":             &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", session.TTL)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.ConversationSession, error) {
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationSession{}, err
	}
	intentID, err := strAttr(item, "paymentIntentId")
	if err != nil {
		return domain.ConversationSession{}, err
	}
	var ttl int64
	if _, ok := item["ttl"]; ok {
		ttl, err = int64Attr(item, "ttl")
		if err != nil {
			return domain.ConversationSession{}, err
		}
	}
	return domain.ConversationSession{
		ConversationID:  convID,
		PaymentIntentID: intentID,
		TTL:             ttl,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

var _ SessionStore = (*DynamoStore)(nil)
