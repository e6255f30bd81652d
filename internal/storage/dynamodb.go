package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB.
// Conversations live in one table; a second table maps platform keys to
// conversation ids so find-or-create stays a key lookup.
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

type platformKeyItem struct {
	PlatformKey    string `dynamodbav:"platformKey"`
	ConversationID string `dynamodbav:"conversationId"`
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// Built directly: LoadDefaultConfig queries IMDS, which hangs on EC2
		// when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "conversation_store").Logger(),
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.ConversationsTable).
		Msg("DynamoDB store initialized")

	return store, nil
}

func conversationKey(id string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		conversationPK: &dbtypes.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoDBStore) Get(ctx context.Context, id string) (*types.Conversation, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.ConversationsTable),
		Key:            conversationKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.FromContext("get conversation", err)
	}
	if out.Item == nil {
		return nil, apperr.NotFound("conversation %s not found", id)
	}

	var conv types.Conversation
	if err := attributevalue.UnmarshalMap(out.Item, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (s *DynamoDBStore) GetByPlatformID(ctx context.Context, platform types.Platform, nativeID string) (*types.Conversation, error) {
	key := types.PlatformKeyOf(platform, nativeID)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.PlatformKeysTable),
		Key: map[string]dbtypes.AttributeValue{
			platformKeyPK: &dbtypes.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.FromContext("get platform key", err)
	}
	if out.Item == nil {
		return nil, apperr.NotFound("conversation %s not found", key)
	}

	var item platformKeyItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform key: %w", err)
	}
	return s.Get(ctx, item.ConversationID)
}

// Create writes the conversation and its platform key in one transaction,
// failing with a conflict if either already exists.
func (s *DynamoDBStore) Create(ctx context.Context, conv *types.Conversation) error {
	if conv.ID == "" {
		return apperr.Validation("conversation id is required")
	}
	next := conv.Clone()
	next.PlatformKey = types.PlatformKeyOf(conv.Platform, conv.PlatformConversationID)
	next.Version = 1

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	keyItem, err := attributevalue.MarshalMap(platformKeyItem{
		PlatformKey:    next.PlatformKey,
		ConversationID: next.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal platform key: %w", err)
	}

	notExists := func(attr string) (expression.Expression, error) {
		return expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(attr))).
			Build()
	}
	convCond, err := notExists(conversationPK)
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}
	keyCond, err := notExists(platformKeyPK)
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dbtypes.TransactWriteItem{
			{Put: &dbtypes.Put{
				TableName:                aws.String(s.config.ConversationsTable),
				Item:                     item,
				ConditionExpression:      convCond.Condition(),
				ExpressionAttributeNames: convCond.Names(),
			}},
			{Put: &dbtypes.Put{
				TableName:                aws.String(s.config.PlatformKeysTable),
				Item:                     keyItem,
				ConditionExpression:      keyCond.Condition(),
				ExpressionAttributeNames: keyCond.Names(),
			}},
		},
	})
	if err != nil {
		return s.mapWriteError("create conversation", conv.ID, err)
	}

	*conv = *next
	return nil
}

// Update replaces the conversation if the stored version equals conv.Version
func (s *DynamoDBStore) Update(ctx context.Context, conv *types.Conversation) error {
	expected := conv.Version
	next := conv.Clone()
	next.Version = expected + 1
	if next.PlatformKey == "" {
		next.PlatformKey = types.PlatformKeyOf(conv.Platform, conv.PlatformConversationID)
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	cond := expression.Name("version").Equal(expression.Value(expected))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.config.ConversationsTable),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return s.mapWriteError("update conversation", conv.ID, err)
	}

	*conv = *next
	return nil
}

// List scans the conversations table. Fine for the sweep batch sizes this
// service runs; a status GSI would replace it at larger volumes.
func (s *DynamoDBStore) List(ctx context.Context, filter Filter) ([]types.Conversation, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.config.ConversationsTable),
	}
	if len(filter.Statuses) > 0 {
		operands := make([]expression.OperandBuilder, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			operands = append(operands, expression.Value(string(st)))
		}
		var cond expression.ConditionBuilder
		if len(operands) == 1 {
			cond = expression.Name("status").Equal(operands[0])
		} else {
			cond = expression.Name("status").In(operands[0], operands[1:]...)
		}
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var out []types.Conversation
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperr.FromContext("scan conversations", err)
		}
		var batch []types.Conversation
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
		}
		for i := range batch {
			if !filter.Matches(&batch[i]) {
				continue
			}
			out = append(out, batch[i])
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *DynamoDBStore) mapWriteError(op, id string, err error) error {
	var condFailed *dbtypes.ConditionalCheckFailedException
	var txCanceled *dbtypes.TransactionCanceledException
	switch {
	case errors.As(err, &condFailed), errors.As(err, &txCanceled):
		s.logger.Debug().Err(err).Str("conversation_id", id).Msg("conditional write rejected")
		return apperr.Conflict("conversation %s was modified concurrently", id)
	default:
		return apperr.FromContext(op, err)
	}
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory conversation store")
		return NewMemoryStore(), nil
	}
}
