/*
Copyright © 2018 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Blobstore stages the domain, config, restart, and output files a
// deployed group's Jobs need through object storage, so every pod can pull
// its inputs and push its output without a shared filesystem. Grounded on
// inmaputil/download.go's OpenBucket/s3Bucket/gsBucket trio, reimplemented
// directly against each provider's own SDK (github.com/aws/aws-sdk-go,
// cloud.google.com/go/storage) instead of InMAP's go-cloud/blob
// wrapper, which this module's dependency set does not carry.
type Blobstore interface {
	Upload(ctx context.Context, bucket, key string, data []byte) (blobURL string, err error)
	Download(ctx context.Context, blobURL string) ([]byte, error)
}

// OpenBlobstore returns the Blobstore implementation for scheme, one of
// "s3" or "gs", mirroring OpenBucket's provider dispatch.
func OpenBlobstore(ctx context.Context, scheme string) (Blobstore, error) {
	switch scheme {
	case "s3":
		return NewS3Blobstore(), nil
	case "gs":
		return NewGCSBlobstore(ctx)
	default:
		return nil, fmt.Errorf("deploy: unsupported blob scheme %q, want \"s3\" or \"gs\"", scheme)
	}
}

// S3Blobstore stages files through AWS S3. It assumes the environment
// variables AWS_REGION, AWS_ACCESS_KEY_ID, and AWS_SECRET_ACCESS_KEY are
// set, exactly as inmaputil/download.go's s3Bucket documents.
type S3Blobstore struct {
	svc *s3.S3
}

// NewS3Blobstore opens a session against AWS_REGION (default us-east-2)
// using credentials from the environment.
func NewS3Blobstore() *S3Blobstore {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	cfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	sess := session.Must(session.NewSession(cfg))
	return &S3Blobstore{svc: s3.New(sess)}
}

func (b *S3Blobstore) Upload(ctx context.Context, bucket, key string, data []byte) (string, error) {
	_, err := b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("deploy: s3 upload %s/%s: %w", bucket, key, err)
	}
	return "s3://" + bucket + "/" + key, nil
}

func (b *S3Blobstore) Download(ctx context.Context, blobURL string) ([]byte, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return nil, fmt.Errorf("deploy: parsing blob url %s: %w", blobURL, err)
	}
	out, err := b.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		return nil, fmt.Errorf("deploy: s3 download %s: %w", blobURL, err)
	}
	defer out.Body.Close()
	return ioutil.ReadAll(out.Body)
}

// GCSBlobstore stages files through Google Cloud Storage, using whatever
// application-default credentials storage.NewClient discovers (the same
// credential discovery cmd/inmapweb/main.go relies on for its EIEIOCache).
type GCSBlobstore struct {
	client *storage.Client
}

// NewGCSBlobstore opens a GCS client using application-default credentials.
func NewGCSBlobstore(ctx context.Context) (*GCSBlobstore, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("deploy: gcs client: %w", err)
	}
	return &GCSBlobstore{client: c}, nil
}

func (b *GCSBlobstore) Upload(ctx context.Context, bucket, key string, data []byte) (string, error) {
	w := b.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("deploy: gcs upload %s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("deploy: gcs upload %s/%s: %w", bucket, key, err)
	}
	return "gs://" + bucket + "/" + key, nil
}

func (b *GCSBlobstore) Download(ctx context.Context, blobURL string) ([]byte, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return nil, fmt.Errorf("deploy: parsing blob url %s: %w", blobURL, err)
	}
	r, err := b.client.Bucket(u.Host).Object(strings.TrimPrefix(u.Path, "/")).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("deploy: gcs download %s: %w", blobURL, err)
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}
