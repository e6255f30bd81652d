package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	conversationPK = "conversationId"
	platformKeyPK  = "platformKey"

	tableActiveTimeout = 30 * time.Second
)

type tableSpec struct {
	name string
	pk   string
}

// tableSpecs lists the tables the conversation store writes to. The platform
// key table enforces one conversation per native chat id.
func tableSpecs(cfg DynamoConfig) []tableSpec {
	return []tableSpec{
		{name: cfg.ConversationsTable, pk: conversationPK},
		{name: cfg.PlatformKeysTable, pk: platformKeyPK},
	}
}

func (t tableSpec) createInput() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(t.name),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(t.pk), KeyType: dbtypes.KeyTypeHash},
		},
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(t.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	}
}

// CreateTablesIfNotExist creates the conversation tables for local development
// and waits until they are active
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	waiter := dynamodb.NewTableExistsWaiter(client)

	for _, table := range tableSpecs(config) {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Debug().Str("table", table.name).Msg("table already exists")
			continue
		}
		var notFound *dbtypes.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe table %s: %w", table.name, err)
		}

		if _, err := client.CreateTable(ctx, table.createInput()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table.name)}, tableActiveTimeout); err != nil {
			return fmt.Errorf("table %s did not become active: %w", table.name, err)
		}
		logger.Info().Str("table", table.name).Msg("table created")
	}

	return nil
}
