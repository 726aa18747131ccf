package dynamodriver

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tableWaitTimeout bounds how long EnsureTable waits for a fresh table to
// become active.
const tableWaitTimeout = 2 * time.Minute

// EnsureTable creates the backing table for a collection when it does not
// already exist and waits for it to become active. The table uses
// on-demand billing with the record identifier as its partition key.
func (db *Database) EnsureTable(ctx context.Context, name string) error {
	table := db.config.TablePrefix + name
	_, err := db.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(idAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(idAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return err
	}

	db.config.Logger.Info("created table",
		"table", table,
		"collection", name,
	)

	waiter := dynamodb.NewTableExistsWaiter(db.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, tableWaitTimeout); err != nil {
		return err
	}
	return nil
}

// DropTable deletes the backing table for a collection. Missing tables are
// not an error.
func (db *Database) DropTable(ctx context.Context, name string) error {
	table := db.config.TablePrefix + name
	_, err := db.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		var missing *types.ResourceNotFoundException
		if errors.As(err, &missing) {
			return nil
		}
		return err
	}

	db.config.Logger.Info("dropped table",
		"table", table,
		"collection", name,
	)
	return nil
}
