// Licensed to Apache Software Foundation (ASF) under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Apache Software Foundation (ASF) licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package aws provides an AWS S3 implementation of the object store facade.
package aws

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	remoteconfig "github.com/cloudlake-db/cloudlake/pkg/fs/remote/config"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

// S3 rejects DeleteObjects batches larger than this.
const maxDeleteObjectsPageSize = 1000

var _ remote.FS = (*s3FS)(nil)

type s3FS struct {
	client       *s3.Client
	bucket       string
	basePath     string
	storageClass types.StorageClass
}

// NewFS creates a new instance of the object store facade for S3 storage.
// dest is an URL of the form s3://bucket/base/path.
func NewFS(dest string, cfg *remoteconfig.FsConfig) (remote.FS, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid dest URL: %w", err)
	}

	bucket, basePath := extractBucketAndBase(u)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name not provided")
	}

	var s3Cfg remoteconfig.S3Config
	if cfg != nil && cfg.S3 != nil {
		s3Cfg = *cfg.S3
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithClientLogMode(aws.LogRetries),
	}
	if s3Cfg.S3ProfileName != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s3Cfg.S3ProfileName))
	}
	if s3Cfg.S3ConfigFilePath != "" {
		opts = append(opts, awsconfig.WithSharedConfigFiles([]string{s3Cfg.S3ConfigFilePath}))
	}
	if s3Cfg.S3CredentialFilePath != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{s3Cfg.S3CredentialFilePath}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := os.Getenv("AWS_ENDPOINT_URL_S3"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3FS{
		client:       client,
		bucket:       bucket,
		basePath:     basePath,
		storageClass: types.StorageClass(s3Cfg.S3StorageClass),
	}, nil
}

func extractBucketAndBase(u *url.URL) (bucket, basePath string) {
	if u.Host != "" {
		return u.Host, strings.TrimPrefix(u.Path, "/")
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// key maps a path to an object key. Full s3:// URLs are accepted so callers
// can address objects discovered through other channels; everything else is
// joined with the base path.
func (s *s3FS) key(p string) string {
	if strings.HasPrefix(p, "s3://") {
		if u, err := url.Parse(p); err == nil {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	if s.basePath == "" {
		return p
	}
	return path.Join(s.basePath, p)
}

func (s *s3FS) Iterate(ctx context.Context, dir string, visit func(name string) bool) error {
	return s.IterateEntries(ctx, dir, func(entry remote.DirEntry) bool {
		return visit(entry.Name)
	})
}

func (s *s3FS) IterateEntries(ctx context.Context, dir string, visit func(entry remote.DirEntry) bool) error {
	prefix := strings.TrimSuffix(s.key(dir), "/") + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify(err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" {
				continue
			}
			if !visit(remote.DirEntry{Name: name, Size: -1, IsDir: true}) {
				return nil
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" {
				continue
			}
			entry := remote.DirEntry{Name: name, Size: -1}
			if obj.Size != nil {
				entry.Size = *obj.Size
			}
			if obj.LastModified != nil {
				entry.Mtime = obj.LastModified.Unix()
			}
			if !visit(entry) {
				return nil
			}
		}
	}
	return nil
}

func (s *s3FS) DeleteFiles(ctx context.Context, paths []string) error {
	for len(paths) > 0 {
		n := len(paths)
		if n > maxDeleteObjectsPageSize {
			n = maxDeleteObjectsPageSize
		}
		page := paths[:n]
		paths = paths[n:]

		objects := make([]types.ObjectIdentifier, 0, len(page))
		for _, p := range page {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(p))})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify(err)
		}
		for _, e := range out.Errors {
			// Missing objects are fine; anything else fails the batch.
			if e.Code != nil && (*e.Code == "NoSuchKey" || *e.Code == "NotFound") {
				continue
			}
			return classify(&smithy.GenericAPIError{
				Code:    aws.ToString(e.Code),
				Message: fmt.Sprintf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)),
			})
		}
	}
	return nil
}

func (s *s3FS) Upload(ctx context.Context, path string, data io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   data,
	}
	if s.storageClass != "" {
		input.StorageClass = s.storageClass
	}
	_, err := s.client.PutObject(ctx, input)
	return classify(err)
}

func (s *s3FS) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, classify(err)
	}
	return resp.Body, nil
}

func (s *s3FS) Stat(ctx context.Context, path string) (remote.DirEntry, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return remote.DirEntry{}, classify(err)
	}
	entry := remote.DirEntry{Name: path, Size: -1}
	if resp.ContentLength != nil {
		entry.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		entry.Mtime = resp.LastModified.Unix()
	}
	return entry, nil
}

func (s *s3FS) Close() error {
	return nil
}

// classify maps S3 API errors onto the shared status classes so callers can
// decide between retrying, skipping and aborting.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return errors.Wrap(status.ErrNotFound, apiErr.ErrorMessage())
		case "SlowDown", "RequestLimitExceeded", "Throttling", "ThrottlingException":
			return errors.Wrap(status.ErrResourceBusy, apiErr.ErrorMessage())
		}
	}
	return err
}
