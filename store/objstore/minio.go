// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.aporeto.io/armet/store"
)

// Config holds the object storage settings.
type Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access-key"`
	SecretKey string `toml:"secret-key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use-ssl"`
}

type minioBucket struct {
	client *minio.Client
	name   string
}

// New returns an ObjectStore backed by MinIO or any S3 compatible
// service. The bucket is created if missing.
func New(ctx context.Context, cfg Config) (*ObjectStore, error) {

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object storage credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create minio client: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(cctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("unable to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(cctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("unable to create bucket: %w", err)
		}
	}

	return newObjectStore(&minioBucket{client: client, name: cfg.Bucket}), nil
}

func (b *minioBucket) put(ctx context.Context, key string, data []byte) error {

	_, err := b.client.PutObject(
		ctx,
		b.name,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	return err
}

func (b *minioBucket) get(ctx context.Context, key string) ([]byte, error) {

	obj, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err)
	}
	defer obj.Close() // nolint: errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateError(err)
	}

	return data, nil
}

func (b *minioBucket) remove(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{})
}

func (b *minioBucket) list(ctx context.Context, prefix string) ([]string, error) {

	var keys []string

	for info := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}

	return keys, nil
}

func translateError(err error) error {

	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return store.ErrNotFound
	}

	return err
}
