package job

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Request struct {
	method string
	path   string
	ctype  string
}

func newTestS3(t *testing.T, handler http.HandlerFunc) *S3Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       DefaultRegion,
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		HTTPClient:   srv.Client(),
	})
	return NewS3StoreFromClient(client)
}

func TestS3StoreDownload(t *testing.T) {
	var mu sync.Mutex
	var seen []s3Request
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, s3Request{method: r.Method, path: r.URL.Path})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("bundle-bytes"))
	})

	dest := filepath.Join(t.TempDir(), "weather.mcpb")
	if err := store.Download(context.Background(), "mpak-bundles", "uploads/weather.mcpb", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bundle-bytes" {
		t.Errorf("downloaded %q", data)
	}
	if len(seen) != 1 || seen[0].method != http.MethodGet || seen[0].path != "/mpak-bundles/uploads/weather.mcpb" {
		t.Errorf("requests = %+v", seen)
	}
}

func TestS3StoreDownload_NotFound(t *testing.T) {
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
	})

	err := store.Download(context.Background(), "mpak-bundles", "missing.mcpb", filepath.Join(t.TempDir(), "x"))
	if err == nil || !strings.Contains(err.Error(), "s3://mpak-bundles/missing.mcpb") {
		t.Fatalf("err = %v", err)
	}
}

func TestS3StoreUpload(t *testing.T) {
	var mu sync.Mutex
	var seen []s3Request
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, s3Request{method: r.Method, path: r.URL.Path, ctype: r.Header.Get("Content-Type")})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
	})

	err := store.Upload(context.Background(), "mpak-results", "reports/scan-1/report.json", []byte(`{}`), "application/json")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := s3Request{method: http.MethodPut, path: "/mpak-results/reports/scan-1/report.json", ctype: "application/json"}
	if len(seen) != 1 || seen[0] != want {
		t.Errorf("requests = %+v, want %+v", seen, want)
	}
}
