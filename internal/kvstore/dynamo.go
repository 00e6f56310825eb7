package kvstore

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
	"github.com/aws/smithy-go"
)

// dynamoAPI is the slice of the DynamoDB client the driver uses; narrow so
// tests can inject a fake.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, opts ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Dynamo implements Driver on DynamoDB. Layout per table: composite primary
// key (PK, SK), Body held as binary canonical JSON, Version as a number,
// one GSI per index name ("{name}-index" keyed by {name}_pk/{name}_sk), and
// an epoch-seconds expiresAt attribute for TTL-enabled tables.
type Dynamo struct {
	client dynamoAPI
}

func NewDynamo(cfg aws.Config) *Dynamo {
	return &Dynamo{client: dynamodb.NewFromConfig(cfg)}
}

// NewDynamoWithClient wires an explicit client, used by tests.
func NewDynamoWithClient(client dynamoAPI) *Dynamo {
	return &Dynamo{client: client}
}

// dynamoItem is the fixed portion of an item; index attributes are added
// dynamically beside it.
type dynamoItem struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Body    []byte `dynamodbav:"Body"`
	Version int64  `dynamodbav:"Version"`
}

func marshalRecord(rec Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:      rec.PK,
		SK:      rec.SK,
		Body:    rec.Body,
		Version: rec.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal record %s/%s: %w", rec.PK, rec.SK, err)
	}
	for name, key := range rec.Index {
		item[name+"_pk"] = &types.AttributeValueMemberS{Value: key.Partition}
		item[name+"_sk"] = &types.AttributeValueMemberS{Value: key.Sort}
	}
	if rec.TTL != nil {
		item["expiresAt"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(rec.TTL.Unix(), 10),
		}
	}
	return item, nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*Record, error) {
	var fixed dynamoItem
	if err := attributevalue.UnmarshalMap(item, &fixed); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	rec := &Record{PK: fixed.PK, SK: fixed.SK, Body: fixed.Body, Version: fixed.Version}
	if v, ok := item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if secs, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			ttl := time.Unix(secs, 0).UTC()
			rec.TTL = &ttl
		}
	}
	return rec, nil
}

func (d *Dynamo) PutIfAbsent(ctx context.Context, table string, rec Record) (PutResult, *Record, error) {
	rec.Version = 1
	item, err := marshalRecord(rec)
	if err != nil {
		return 0, nil, err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return Created, nil, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return 0, nil, wrapAWS(err, "put %s %s/%s", table, rec.PK, rec.SK)
	}

	existing, err := d.Get(ctx, table, rec.PK, rec.SK)
	if err != nil {
		return 0, nil, fmt.Errorf("read back existing %s/%s: %w", rec.PK, rec.SK, err)
	}
	return AlreadyExists, existing, nil
}

func (d *Dynamo) Get(ctx context.Context, table, pk, sk string) (*Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapAWS(err, "get %s %s/%s", table, pk, sk)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalRecord(out.Item)
}

func (d *Dynamo) Update(ctx context.Context, table string, rec Record, expectVersion int64) error {
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND Version = :expect"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expect": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectVersion, 10)},
		},
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		// The condition fails for both a missing item and a stale version;
		// a follow-up read tells them apart.
		if _, getErr := d.Get(ctx, table, rec.PK, rec.SK); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return wrapAWS(err, "update %s %s/%s", table, rec.PK, rec.SK)
}

func (d *Dynamo) Scan(ctx context.Context, table, index, partition string, q Query) ([]Record, error) {
	pkAttr, skAttr := "PK", "SK"
	in := &dynamodb.QueryInput{
		TableName:        aws.String(table),
		ScanIndexForward: aws.Bool(!q.Descending),
	}
	if index != PrimaryIndex {
		in.IndexName = aws.String(index + "-index")
		pkAttr, skAttr = index+"_pk", index+"_sk"
	} else {
		in.ConsistentRead = aws.Bool(true)
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}

	cond := "#p = :p"
	values := map[string]types.AttributeValue{
		":p": &types.AttributeValueMemberS{Value: partition},
	}
	names := map[string]string{"#p": pkAttr}
	switch {
	case q.SortFrom != "" && q.SortTo != "":
		cond += " AND #s BETWEEN :from AND :to"
		names["#s"] = skAttr
		values[":from"] = &types.AttributeValueMemberS{Value: q.SortFrom}
		values[":to"] = &types.AttributeValueMemberS{Value: q.SortTo}
	case q.SortFrom != "":
		cond += " AND #s >= :from"
		names["#s"] = skAttr
		values[":from"] = &types.AttributeValueMemberS{Value: q.SortFrom}
	case q.SortTo != "":
		cond += " AND #s <= :to"
		names["#s"] = skAttr
		values[":to"] = &types.AttributeValueMemberS{Value: q.SortTo}
	}
	in.KeyConditionExpression = aws.String(cond)
	in.ExpressionAttributeNames = names
	in.ExpressionAttributeValues = values

	out, err := d.client.Query(ctx, in)
	if err != nil {
		return nil, wrapAWS(err, "scan %s index %q partition %q", table, index, partition)
	}

	records := make([]Record, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := unmarshalRecord(item)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return wrapAWS(err, "dynamodb ping")
	}
	return nil
}

// wrapAWS annotates an AWS error with its service error code when one is
// present.
func wrapAWS(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %s: %w", msg, ae.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
