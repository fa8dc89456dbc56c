// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package oss is the shared object-storage bucket abstraction used by the
// Parquet CAS segment store (C4, spec.md §4.4). Its Bucket interface keeps
// the method set and doc shape of the original Aliyun-signed HTTP client
// (Stat/Open/Delete/Put/ListObjects/...), but the implementation underneath
// is now github.com/aws/aws-sdk-go-v2's S3 client: the hand-rolled v4
// request signing, multipart upload, and XML list/delete parsing the
// teacher wrote by hand (signature.go, multipart.go, delete.go, list.go)
// are superseded by the SDK's own client and are not carried forward
// (DESIGN.md: the SDK already covers signing/multipart/batch-delete/list
// more completely than a hand port would).
package oss

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type Bucket interface {
	Stat(ctx context.Context, resourcePath string) (*Stat, error)
	Open(ctx context.Context, resourcePath string, start, length int64) (RangeReader, error)
	Delete(ctx context.Context, resourcePath string) error
	Put(ctx context.Context, resourcePath string, r io.Reader, mime string) error
	DeleteMultipleObjects(ctx context.Context, objectKeys []string) error
	ListObjects(ctx context.Context, prefix, continuationToken string) ([]*Object, string, error)
}

var _ Bucket = &bucket{}

type bucket struct {
	client *s3.Client
	name   string
}

type NewBucketOptions struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	UsePathStyle    bool
}

// NewBucket builds an S3-backed Bucket. A non-empty Endpoint targets an
// S3-compatible store (e.g. MinIO); an empty Endpoint uses the SDK's
// default AWS resolution.
func NewBucket(ctx context.Context, opts *NewBucketOptions) (Bucket, error) {
	var optFns []func(*config.LoadOptions) error
	if opts.Region != "" {
		optFns = append(optFns, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.AccessKeySecret, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("oss: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return &bucket{client: client, name: opts.Bucket}, nil
}

type Stat struct {
	Size int64
	Mime string
	ETag string
}

func (b *bucket) Stat(ctx context.Context, resourcePath string) (*Stat, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.name, Key: &resourcePath})
	if err != nil {
		return nil, fmt.Errorf("oss: stat %s: %w", resourcePath, err)
	}
	s := &Stat{}
	if out.ContentLength != nil {
		s.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		s.Mime = *out.ContentType
	}
	if out.ETag != nil {
		s.ETag = *out.ETag
	}
	return s, nil
}

func (b *bucket) Open(ctx context.Context, resourcePath string, start, length int64) (RangeReader, error) {
	in := &s3.GetObjectInput{Bucket: &b.name, Key: &resourcePath}
	if length > 0 {
		rng := fmt.Sprintf("bytes=%d-%d", start, start+length-1)
		in.Range = &rng
	} else if start > 0 {
		rng := fmt.Sprintf("bytes=%d-", start)
		in.Range = &rng
	}
	out, err := b.client.GetObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("oss: open %s: %w", resourcePath, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	hdr := ""
	if out.ContentRange != nil {
		hdr = *out.ContentRange
	}
	return NewRangeReader(out.Body, size, hdr), nil
}

func (b *bucket) Delete(ctx context.Context, resourcePath string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.name, Key: &resourcePath}); err != nil {
		return fmt.Errorf("oss: delete %s: %w", resourcePath, err)
	}
	return nil
}

func (b *bucket) Put(ctx context.Context, resourcePath string, r io.Reader, mime string) error {
	in := &s3.PutObjectInput{Bucket: &b.name, Key: &resourcePath, Body: r}
	if mime != "" {
		in.ContentType = &mime
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("oss: put %s: %w", resourcePath, err)
	}
	return nil
}

func (b *bucket) DeleteMultipleObjects(ctx context.Context, objectKeys []string) error {
	if len(objectKeys) == 0 {
		return nil
	}
	const batchSize = 1000
	for i := 0; i < len(objectKeys); i += batchSize {
		end := min(i+batchSize, len(objectKeys))
		objects := make([]s3types.ObjectIdentifier, 0, end-i)
		for _, k := range objectKeys[i:end] {
			key := k
			objects = append(objects, s3types.ObjectIdentifier{Key: &key})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &b.name,
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("oss: delete multiple objects: %w", err)
		}
	}
	return nil
}

type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

const MaxKeys = 1000

func (b *bucket) ListObjects(ctx context.Context, prefix, continuationToken string) ([]*Object, string, error) {
	in := &s3.ListObjectsV2Input{Bucket: &b.name, Prefix: &prefix, MaxKeys: aws.Int32(MaxKeys)}
	if continuationToken != "" {
		in.ContinuationToken = &continuationToken
	}
	out, err := b.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("oss: list objects: %w", err)
	}
	objects := make([]*Object, 0, len(out.Contents))
	for _, o := range out.Contents {
		obj := &Object{}
		if o.Key != nil {
			obj.Key = *o.Key
		}
		if o.Size != nil {
			obj.Size = *o.Size
		}
		if o.ETag != nil {
			obj.ETag = *o.ETag
		}
		objects = append(objects, obj)
	}
	next := ""
	if out.NextContinuationToken != nil {
		next = *out.NextContinuationToken
	}
	return objects, next, nil
}
