package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUser() User {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pic := "https://bucket.s3.us-east-1.amazonaws.com/profile-pictures/a@x.com/1-me.png"
	return User{
		Email:             "a@x.com",
		FirstName:         "Ada",
		LastName:          "Lovelace",
		Gender:            "female",
		DateOfBirth:       "1815-12-10",
		ProfilePictureURL: &pic,
		UseInitials:       false,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

func TestMemory_GetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	u := sampleUser()
	require.NoError(t, m.Put(ctx, &u))

	got, err := m.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, u, *got)

	// Returned records are copies
	got.FirstName = "changed"
	again, err := m.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.FirstName)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory(sampleUser()).Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUser_Profile(t *testing.T) {
	u := sampleUser()
	p := u.Profile()
	assert.Equal(t, u.Email, p.Email)
	assert.Equal(t, u.ProfilePictureURL, p.ProfilePictureURL)
	assert.Empty(t, p.ConnectionID)
}

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	getErr error
	table  string
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.table = aws.ToString(in.TableName)
	key := in.Key[keyAttribute].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.table = aws.ToString(in.TableName)
	key := in.Item[keyAttribute].(*types.AttributeValueMemberS).Value
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoDB_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
	d := NewDynamoDB(fake, "WebChatingApp")

	u := sampleUser()
	require.NoError(t, d.Put(ctx, &u))
	assert.Equal(t, "WebChatingApp", fake.table)

	stored := fake.items["a@x.com"]
	require.NotNil(t, stored)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "a@x.com"}, stored["connectionId"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2024-03-01T10:00:00Z"}, stored["createdAt"])

	got, err := d.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, u, *got)
}

func TestDynamoDB_NilPicture(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
	d := NewDynamoDB(fake, "Users")

	u := sampleUser()
	u.ProfilePictureURL = nil
	require.NoError(t, d.Put(ctx, &u))

	got, err := d.Get(ctx, u.Email)
	require.NoError(t, err)
	assert.Nil(t, got.ProfilePictureURL)
}

func TestDynamoDB_NotFound(t *testing.T) {
	d := NewDynamoDB(&fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}, "Users")
	_, err := d.Get(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoDB_Unavailable(t *testing.T) {
	boom := errors.New("connection refused")
	d := NewDynamoDB(&fakeDynamo{getErr: boom}, "Users")

	_, err := d.Get(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}
