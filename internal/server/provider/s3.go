package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Indirection points over the AWS SDK so tests can stub the network edge.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	headBucket = func(c *s3.Client, ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
		return c.HeadBucket(ctx, in, optFns...)
	}
)

// s3Credentials is the decrypted credential payload.
type s3Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// S3Factory builds S3-backed Clients. Bucket, region, and endpoint come from
// server configuration; the per-user access keys come from the decrypted
// credential.
type S3Factory struct {
	bucket       string
	region       string
	baseEndpoint string
}

func NewS3Factory(bucket, region, baseEndpoint string) *S3Factory {
	return &S3Factory{bucket: bucket, region: region, baseEndpoint: baseEndpoint}
}

// NewClient parses the credential bytes and constructs an S3 client with the
// embedded static keys. Unparsable bytes mean the stored secret is unusable.
func (f *S3Factory) NewClient(ctx context.Context, token []byte) (Client, error) {
	var creds s3Credentials
	if err := json.Unmarshal(token, &creds); err != nil {
		return nil, fmt.Errorf("invalid credential payload: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("invalid credential payload: missing keys")
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(f.region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if f.baseEndpoint != "" {
			o.BaseEndpoint = aws.String(f.baseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{client: client, bucket: f.bucket}, nil
}

// S3Client probes the provider with a HeadBucket call.
type S3Client struct {
	client *s3.Client
	bucket string
}

func (c *S3Client) ValidateToken(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	_, err := headBucket(c.client, ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err == nil
}
