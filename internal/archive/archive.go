// Package archive uploads each committed stash snapshot to S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/tree"
)

const prefix = "snapshots"

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Document is the stored object body.
type Document struct {
	PassID     string     `json:"passId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Managed    int        `json:"managed"`
	Removed    []string   `json:"removed"`
	Closed     []string   `json:"closed"`
	Root       *tree.Node `json:"root"`
}

type Archive struct {
	client *minio.Client
	bucket string
}

func New(opts Options) (*Archive, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archive{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	log.Printf("archive: created bucket %s", a.bucket)
	return nil
}

func (a *Archive) Name() string {
	return "archive"
}

func (a *Archive) Observe(ctx context.Context, pass reconcile.PassResult) error {
	_, err := a.Put(ctx, pass)
	return err
}

// Put stores pass and returns its object key.
func (a *Archive) Put(ctx context.Context, pass reconcile.PassResult) (string, error) {
	body, err := Encode(pass)
	if err != nil {
		return "", err
	}
	key := ObjectKey(pass)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Get loads a stored document.
func (a *Archive) Get(ctx context.Context, key string) (Document, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	var doc Document
	if err := json.NewDecoder(obj).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, nil
}

// ObjectKey files a pass under the UTC day it finished.
func ObjectKey(pass reconcile.PassResult) string {
	day := pass.FinishedAt.UTC().Format("2006-01-02")
	return path.Join(prefix, day, pass.ID+".json")
}

func Encode(pass reconcile.PassResult) ([]byte, error) {
	doc := Document{
		PassID:     pass.ID,
		StartedAt:  pass.StartedAt,
		FinishedAt: pass.FinishedAt,
		Managed:    pass.Managed,
		Removed:    pass.Removed,
		Closed:     pass.Closed,
		Root:       pass.Snapshot.Root,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode pass %s: %w", pass.ID, err)
	}
	return body, nil
}
