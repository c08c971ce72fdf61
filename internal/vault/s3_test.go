package vault

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
)

// fakeS3 is a minimal path-style S3 server: one bucket, PUT/GET/HEAD on objects.
type fakeS3 struct {
	bucket  string
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]string
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:  bucket,
		objects: make(map[string][]byte),
		meta:    make(map[string]string),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if key == "" {
		// HeadBucket
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		f.meta[key] = r.Header.Get("X-Amz-Meta-" + versionMetaKey)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		if v := f.meta[key]; v != "" {
			w.Header().Set("X-Amz-Meta-"+versionMetaKey, v)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Vault(t *testing.T, fake *fakeS3) *S3Vault {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	v, err := NewS3Vault(context.Background(), config.VaultConfig{
		Type:              "s3",
		Name:              "test-s3",
		S3Bucket:          fake.bucket,
		S3Prefix:          "cvc/",
		S3Region:          "us-east-1",
		S3Endpoint:        srv.URL,
		S3AccessKeyID:     "test",
		S3SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Vault() error = %v", err)
	}
	return v
}

func TestS3Vault(t *testing.T) {
	testVaultContract(t, func(t *testing.T) cvc.Vault {
		return newTestS3Vault(t, newFakeS3("snapshots"))
	})
}

func TestS3Vault_ObjectKey(t *testing.T) {
	fake := newFakeS3("snapshots")
	v := newTestS3Vault(t, fake)

	if err := v.PutMetadata("inst-1", "db", strings.NewReader("data"), 4, 3); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	if _, ok := fake.objects["cvc/metadata/inst-1/db"]; !ok {
		keys := make([]string, 0, len(fake.objects))
		for k := range fake.objects {
			keys = append(keys, k)
		}
		t.Errorf("object not stored at expected key, have %v", keys)
	}
}

func TestNewS3Vault_RequiresBucket(t *testing.T) {
	_, err := NewS3Vault(context.Background(), config.VaultConfig{Type: "s3", Name: "x"})
	if err == nil {
		t.Error("NewS3Vault() expected error without bucket")
	}
}
