// Copyright 2023 AI Redefined Inc. <dev+cogment@ai-r.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultAWSRegion = "us-east-1"

type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3API is the subset of the S3 client used by the store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(
		ctx context.Context,
		params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

type s3Store struct {
	client s3API
	bucket string
}

func loadAWSConfig(ctx context.Context, options S3Options) (aws.Config, error) {
	region := options.Region
	if region == "" {
		region = defaultAWSRegion
	}
	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if options.AccessKey != "" && options.SecretKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loadOptions...)
}

// NewS3Store stores blobs as objects of an S3 bucket, a custom endpoint switches to path-style addressing.
func NewS3Store(ctx context.Context, options S3Options) (BlobStore, error) {
	if options.Bucket == "" {
		return nil, fmt.Errorf("a bucket name is required")
	}
	cfg, err := loadAWSConfig(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("unable to load the aws configuration: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(s3Options *s3.Options) {
		if options.Endpoint != "" {
			s3Options.BaseEndpoint = aws.String(options.Endpoint)
			s3Options.UsePathStyle = true
		}
	})
	return &s3Store{client: client, bucket: options.Bucket}, nil
}

func (s *s3Store) Kind() string {
	return "s3"
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("unable to put object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, &UnknownBlobError{Key: key}
		}
		return nil, fmt.Errorf("unable to get object %q from bucket %q: %w", key, s.bucket, err)
	}
	return output.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("unable to delete object %q from bucket %q: %w", key, s.bucket, err)
	}
	return nil
}
