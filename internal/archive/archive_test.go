package archive

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/tree"
)

func samplePass() reconcile.PassResult {
	root := &tree.Node{ID: "root", Kind: tree.KindContainer, Title: "Tab Stash", Children: []*tree.Node{
		{ID: "l1", Kind: tree.KindLeaf, Title: "A", URL: "https://a"},
	}}
	return reconcile.PassResult{
		ID:         "pass_abc",
		StartedAt:  time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC),
		FinishedAt: time.Date(2024, 6, 2, 0, 0, 1, 0, time.UTC),
		Snapshot:   tree.Snapshot{Root: root},
		Managed:    1,
		Removed:    []string{"https://b"},
		Closed:     []string{"tab_1"},
	}
}

func TestObjectKeyUsesFinishDay(t *testing.T) {
	if got := ObjectKey(samplePass()); got != "snapshots/2024-06-02/pass_abc.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestEncodeCarriesTree(t *testing.T) {
	body, err := Encode(samplePass())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.PassID != "pass_abc" || doc.Managed != 1 || len(doc.Closed) != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if got := tree.LeavesOf(doc.Root); len(got) != 1 || got[0] != "https://a" {
		t.Fatalf("unexpected leaves %v", got)
	}
}

func TestArchiveRoundTripMinio(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("TABSTASH_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("TABSTASH_TEST_MINIO_ENDPOINT is not set")
	}

	a, err := New(Options{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("TABSTASH_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("TABSTASH_TEST_MINIO_SECRET_KEY"),
		Bucket:    "tabstash-test",
	})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.EnsureBucket(ctx); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	if err := a.EnsureBucket(ctx); err != nil {
		t.Fatalf("ensure bucket twice: %v", err)
	}
	key, err := a.Put(ctx, samplePass())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	doc, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.PassID != "pass_abc" {
		t.Fatalf("unexpected document %+v", doc)
	}
}
