// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive mirrors uploaded datasets to S3 or an S3-compatible store
// such as MinIO. Archiving is best-effort from the gateway's point of view:
// a failed mirror is logged and never fails the upload.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/abdulh-dev/ML-Orchestrator/config"
)

// Archiver stores a copy of an uploaded file.
type Archiver interface {
	// Put stores body under key and returns the object's location.
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
	// Check verifies the destination is reachable.
	Check(ctx context.Context) error
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archiver writes objects to one bucket under a key prefix.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// New builds an S3Archiver from configuration. It returns (nil, nil) when no
// bucket is configured.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	// Explicit keys win; otherwise the default chain (env, profile, IAM role).
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// DatasetKey builds the object key for an uploaded dataset. Keys are grouped
// by upload day so a bucket listing stays navigable.
func DatasetKey(filename string, now time.Time) string {
	return path.Join("datasets", now.UTC().Format("2006/01/02"), path.Base(filename))
}

func (a *S3Archiver) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error) {
	fullKey := key
	if a.prefix != "" {
		fullKey = a.prefix + "/" + key
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(fullKey),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put s3://%s/%s: %w", a.bucket, fullKey, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, fullKey), nil
}

func (a *S3Archiver) Check(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", a.bucket, err)
	}
	return nil
}
