package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Load resolves credentials and settings from the environment and shared
// config files. A non-empty region overrides the resolved one.
func Load(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func DynamoDB(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// S3 returns a client and the region it was configured for.
func S3(ctx context.Context, region string) (*s3.Client, string, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, "", err
	}
	return s3.NewFromConfig(cfg), cfg.Region, nil
}
