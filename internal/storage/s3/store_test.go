package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/tablechat/tablechat/internal/storage"
)

type fakeClient struct {
	objects map[string][]byte

	getKeys  []string
	putKeys  []string
	statKeys []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}}
}

func (f *fakeClient) Get(_ context.Context, _ string, key string) (io.ReadCloser, error) {
	f.getKeys = append(f.getKeys, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeClient) Put(_ context.Context, _ string, key string, reader io.Reader, _ int64, _ string) (storage.ObjectInfo, error) {
	f.putKeys = append(f.putKeys, key)
	body, err := io.ReadAll(reader)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = body
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (f *fakeClient) Stat(_ context.Context, _ string, key string) (storage.ObjectInfo, error) {
	f.statKeys = append(f.statKeys, key)
	body, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeClient) CreateBucket(context.Context, string, string) error { return nil }

func TestGetAppliesPrefix(t *testing.T) {
	client := newFakeClient()
	client.objects["datasets/sales.csv"] = []byte("region,sales\nA,10\n")
	store, err := NewWithClient("tablechat", "datasets", client)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	reader, err := store.Get(context.Background(), "/sales.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "region,sales\nA,10\n" {
		t.Fatalf("body = %q", body)
	}
	if client.getKeys[0] != "datasets/sales.csv" {
		t.Fatalf("requested key = %q", client.getKeys[0])
	}
}

func TestGetMissingObject(t *testing.T) {
	store, err := NewWithClient("tablechat", "", newFakeClient())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if _, err := store.Get(context.Background(), "missing.csv"); err != storage.ErrObjectNotFound {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestPutThenStatRoundTrip(t *testing.T) {
	client := newFakeClient()
	store, err := NewWithClient("tablechat", "exports", client)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	payload := "region,total\nA,15\n"
	info, err := store.Put(context.Background(), "result.csv", strings.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "exports/result.csv" {
		t.Fatalf("Key = %q", info.Key)
	}

	stat, err := store.Stat(context.Background(), "result.csv")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Size != int64(len(payload)) {
		t.Fatalf("Size = %d", stat.Size)
	}
}

func TestKeyNormalizationRejectsTraversal(t *testing.T) {
	store, err := NewWithClient("tablechat", "datasets", newFakeClient())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	for _, key := range []string{"", "   ", "..", "../secrets.csv", "a/../../b.csv"} {
		if _, err := store.Get(context.Background(), key); err == nil {
			t.Fatalf("Get(%q) should fail", key)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		name       string
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{name: "bare host", raw: "minio:9000", useSSL: false, wantHost: "minio:9000", wantSecure: false},
		{name: "http URL", raw: "http://minio:9000", useSSL: false, wantHost: "minio:9000", wantSecure: false},
		{name: "https URL forces TLS", raw: "https://s3.example.com", useSSL: false, wantHost: "s3.example.com", wantSecure: true},
		{name: "bare host with flag", raw: "s3.example.com", useSSL: true, wantHost: "s3.example.com", wantSecure: true},
		{name: "empty", raw: "   ", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEndpoint() error = %v", err)
			}
			if host != tc.wantHost || secure != tc.wantSecure {
				t.Fatalf("parseEndpoint() = (%q, %v)", host, secure)
			}
		})
	}
}
