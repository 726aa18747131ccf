// Package dynamodriver implements the driver contract on Amazon DynamoDB.
//
// Each collection maps to its own table whose partition key is the string
// attribute "_id"; [Database.EnsureTable] creates tables with that schema.
// Filters compile to condition expressions, so equality matching and the
// compare-and-swap replace run server-side. Timestamps are stored the way
// the SDK encodes them, as RFC 3339 strings, and come back as strings;
// the mapping layer accepts both forms.
//
// Reads use Scan (or GetItem when a filter addresses a single identifier),
// which makes Find a full-table operation. The driver is meant for the
// modest collection sizes an object mapper works with, not for analytics.
package dynamodriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/espalier/driver"
	"github.com/jacentio/espalier/internal/record"
)

// idAttr is the partition key attribute of every collection table.
const idAttr = "_id"

// Config holds DynamoDB driver settings.
type Config struct {
	// TablePrefix is prepended to collection names to form table names.
	TablePrefix string

	// Logger receives table lifecycle diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Database exposes DynamoDB tables as driver collections.
type Database struct {
	client *dynamodb.Client
	config Config
}

// New creates a new Database on an existing DynamoDB client.
func New(client *dynamodb.Client, config Config) *Database {
	config.validate()
	return &Database{
		client: client,
		config: config,
	}
}

// Collection returns the collection backed by the table named for it.
// The table itself is not created; see EnsureTable.
func (db *Database) Collection(name string) driver.Collection {
	return &Collection{
		client: db.client,
		table:  db.config.TablePrefix + name,
	}
}

// Collection runs the driver operations against one table.
type Collection struct {
	client *dynamodb.Client
	table  string
}

// Table returns the name of the backing table.
func (c *Collection) Table() string { return c.table }

func (c *Collection) Find(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Cursor, error) {
	cond, err := compileFilter(filter, false)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.ScanInput{TableName: aws.String(c.table)}
	if cond.expr != "" {
		input.FilterExpression = aws.String(cond.expr)
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}
	return &scanCursor{
		pag:        dynamodb.NewScanPaginator(c.client, input),
		projection: projection,
	}, nil
}

func (c *Collection) FindOne(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Record, error) {
	if id, ok := keyOnlyFilter(filter); ok {
		return c.getByID(ctx, id, projection)
	}
	cur, err := c.Find(ctx, filter, projection)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if cur.Next(ctx) {
		return cur.Record(), nil
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, driver.ErrNotFound
}

// getByID fetches a record with GetItem instead of a scan.
func (c *Collection) getByID(ctx context.Context, id string, projection driver.Projection) (driver.Record, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       itemKey(id),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, driver.ErrNotFound
	}
	rec, err := unmarshalItem(out.Item)
	if err != nil {
		return nil, err
	}
	return record.Project(rec, projection)
}

func (c *Collection) InsertOne(ctx context.Context, rec driver.Record) (string, error) {
	id := ""
	if v, present := rec[idAttr]; present {
		if s, ok := v.(string); ok {
			id = s
		} else {
			id = fmt.Sprint(v)
		}
	} else {
		id = uuid.NewString()
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return "", err
	}
	item[idAttr] = &types.AttributeValueMemberS{Value: id}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": idAttr},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return "", fmt.Errorf("dynamodriver: duplicate id %q", id)
		}
		return "", err
	}
	return id, nil
}

func (c *Collection) FindOneAndReplace(ctx context.Context, filter driver.Filter, rec driver.Record) (driver.Record, error) {
	id, err := c.resolveID(ctx, filter)
	if err != nil {
		return nil, err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return nil, err
	}
	item[idAttr] = &types.AttributeValueMemberS{Value: id}
	cond, err := compileFilter(filter, true)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     item,
		ConditionExpression:      aws.String(cond.expr),
		ExpressionAttributeNames: cond.names,
	}
	if len(cond.values) > 0 {
		input.ExpressionAttributeValues = cond.values
	}
	if _, err := c.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, driver.ErrNotFound
		}
		return nil, err
	}
	return unmarshalItem(item)
}

func (c *Collection) ReplaceOne(ctx context.Context, filter driver.Filter, rec driver.Record, upsert bool) error {
	id, err := c.resolveID(ctx, filter)
	if errors.Is(err, driver.ErrNotFound) && upsert {
		_, err = c.InsertOne(ctx, rec)
		return err
	}
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	item[idAttr] = &types.AttributeValueMemberS{Value: id}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	}
	if !upsert {
		cond, err := compileFilter(filter, true)
		if err != nil {
			return err
		}
		input.ConditionExpression = aws.String(cond.expr)
		input.ExpressionAttributeNames = cond.names
		if len(cond.values) > 0 {
			input.ExpressionAttributeValues = cond.values
		}
	}
	if _, err := c.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return driver.ErrNotFound
		}
		return err
	}
	return nil
}

func (c *Collection) FindOneAndDelete(ctx context.Context, filter driver.Filter) (driver.Record, error) {
	id, err := c.resolveID(ctx, filter)
	if err != nil {
		return nil, err
	}
	cond, err := compileFilter(filter, true)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.DeleteItemInput{
		TableName:                aws.String(c.table),
		Key:                      itemKey(id),
		ConditionExpression:      aws.String(cond.expr),
		ExpressionAttributeNames: cond.names,
		ReturnValues:             types.ReturnValueAllOld,
	}
	if len(cond.values) > 0 {
		input.ExpressionAttributeValues = cond.values
	}
	out, err := c.client.DeleteItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, driver.ErrNotFound
		}
		return nil, err
	}
	if out.Attributes == nil {
		return nil, driver.ErrNotFound
	}
	return unmarshalItem(out.Attributes)
}

func (c *Collection) CountDocuments(ctx context.Context, filter driver.Filter) (int64, error) {
	cond, err := compileFilter(filter, false)
	if err != nil {
		return 0, err
	}
	input := &dynamodb.ScanInput{
		TableName: aws.String(c.table),
		Select:    types.SelectCount,
	}
	if cond.expr != "" {
		input.FilterExpression = aws.String(cond.expr)
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}
	var total int64
	pag := dynamodb.NewScanPaginator(c.client, input)
	for pag.HasMorePages() {
		page, err := pag.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		total += int64(page.Count)
	}
	return total, nil
}

// resolveID finds the identifier of the record a filter addresses,
// scanning when the filter does not name one directly.
func (c *Collection) resolveID(ctx context.Context, filter driver.Filter) (string, error) {
	if v, present := filter[idAttr]; present && v != nil {
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	cur, err := c.Find(ctx, filter, driver.Projection{idAttr: true})
	if err != nil {
		return "", err
	}
	defer cur.Close()
	if cur.Next(ctx) {
		if s, ok := cur.Record()[idAttr].(string); ok {
			return s, nil
		}
	}
	if err := cur.Err(); err != nil {
		return "", err
	}
	return "", driver.ErrNotFound
}

// keyOnlyFilter reports whether a filter addresses a single record by
// identifier alone.
func keyOnlyFilter(filter driver.Filter) (string, bool) {
	if len(filter) != 1 {
		return "", false
	}
	s, ok := filter[idAttr].(string)
	return s, ok
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		idAttr: &types.AttributeValueMemberS{Value: id},
	}
}

// scanCursor walks scan pages lazily, surfacing one record per Next.
type scanCursor struct {
	pag        *dynamodb.ScanPaginator
	projection driver.Projection
	buf        []driver.Record
	pos        int
	current    driver.Record
	err        error
	closed     bool
}

func (c *scanCursor) Next(ctx context.Context) bool {
	if c.err != nil || c.closed {
		return false
	}
	for {
		if c.pos < len(c.buf) {
			c.current = c.buf[c.pos]
			c.pos++
			return true
		}
		if !c.pag.HasMorePages() {
			return false
		}
		page, err := c.pag.NextPage(ctx)
		if err != nil {
			c.err = err
			return false
		}
		c.buf = c.buf[:0]
		c.pos = 0
		for _, item := range page.Items {
			rec, err := unmarshalItem(item)
			if err != nil {
				c.err = err
				return false
			}
			rec, err = record.Project(rec, c.projection)
			if err != nil {
				c.err = err
				return false
			}
			c.buf = append(c.buf, rec)
		}
	}
}

func (c *scanCursor) Record() driver.Record { return c.current }

func (c *scanCursor) Err() error { return c.err }

func (c *scanCursor) Close() error {
	c.closed = true
	return nil
}
