package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestS3Destination_Write(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var (
		mu          sync.Mutex
		method      string
		path        string
		contentType string
		bodyLen     int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, contentType, bodyLen = r.Method, r.URL.Path, r.Header.Get("Content-Type"), len(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest, err := NewS3Destination(context.Background(), "backups", "savedsearch/searches.jsonl.zst", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if got := dest.String(); got != "s3://backups/savedsearch/searches.jsonl.zst" {
		t.Fatalf("String() = %q", got)
	}
	if err := dest.Write(context.Background(), []byte(`{"type":"header"}`+"\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/backups/savedsearch/searches.jsonl.zst" {
		t.Fatalf("request = %s %s", method, path)
	}
	if contentType != "application/zstd" {
		t.Fatalf("Content-Type = %q", contentType)
	}
	if bodyLen == 0 {
		t.Fatal("empty upload body")
	}
}
