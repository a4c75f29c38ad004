package archive

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"rolectl/internal/config"
)

// fakeS3 serves the handful of path-style S3 calls S3Archive makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

type listBucketResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	} `xml:"Contents"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listBucketResult{Name: bucket, Prefix: prefix}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key  string `xml:"Key"`
				Size int    `xml:"Size"`
			}{k, len(f.objects[k])})
		}
		res.KeyCount = len(keys)
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

// newTestS3Archive returns an archive backed by an in-process fake S3 and
// the fake's object map.
func newTestS3Archive(t *testing.T, prefix string) (*S3Archive, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	fake := &fakeS3{bucket: "records", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	a, err := NewS3Archive(context.Background(), config.ArchiveConfig{
		Type:            "s3",
		Name:            "remote",
		Bucket:          "records",
		Prefix:          prefix,
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Archive() error = %v", err)
	}
	return a, fake
}

func TestS3Archive_Prefix(t *testing.T) {
	a, fake := newTestS3Archive(t, "rolectl/")
	put(t, a, "s1/0001-a.json", "a")

	fake.mu.Lock()
	_, stored := fake.objects["rolectl/s1/0001-a.json"]
	fake.mu.Unlock()
	if !stored {
		t.Errorf("object not stored under prefix, have %v", fake.objects)
	}

	keys, err := a.List("s1/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "s1/0001-a.json" {
		t.Errorf("List() = %v, want keys without the prefix", keys)
	}

	var buf bytes.Buffer
	if err := a.Get("s1/0001-a.json", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "a" {
		t.Errorf("Get() = %q, want %q", buf.String(), "a")
	}
}

func TestS3Archive_MissingBucket(t *testing.T) {
	a, fake := newTestS3Archive(t, "")
	fake.mu.Lock()
	fake.bucket = "other"
	fake.mu.Unlock()

	if err := a.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() should fail for a missing bucket")
	}
	var buf bytes.Buffer
	if err := a.Get("s1/x.json", &buf); err == nil || errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Get() error = %v, want a bucket error", err)
	}
}
