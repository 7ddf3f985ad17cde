package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyAttribute is the table's partition key. It holds the email.
const keyAttribute = "connectionId"

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDB stores users in a DynamoDB table.
type DynamoDB struct {
	client DynamoDBAPI
	table  string
}

var _ UserStore = (*DynamoDB)(nil)

func NewDynamoDB(client DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

type item struct {
	ConnectionID string `dynamodbav:"connectionId"`
	User
}

func (d *DynamoDB) Get(ctx context.Context, email string) (*User, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			keyAttribute: &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s: %w", email, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", email, err)
	}
	return &it.User, nil
}

func (d *DynamoDB) Put(ctx context.Context, user *User) error {
	av, err := attributevalue.MarshalMap(item{ConnectionID: user.Email, User: *user})
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.Email, err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put %s: %w", user.Email, err)
	}
	return nil
}
