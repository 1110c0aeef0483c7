package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	methods []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, r.Method+" "+r.URL.Path)

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: make(map[string]string)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	st, err := NewS3Store(ctx, S3Config{
		Region:    "us-east-1",
		Bucket:    "exports",
		AccessKey: "key",
		SecretKey: "secret",
		Endpoint:  srv.URL,
	})
	require.NoError(t, err)

	require.NoError(t, st.Put(ctx, "exports/p/a.zip", strings.NewReader("zipdata"), "application/zip"))

	fake.mu.Lock()
	assert.Contains(t, fake.objects["/exports/exports/p/a.zip"], "zipdata")
	assert.Equal(t, "HEAD /exports", fake.methods[0])
	fake.mu.Unlock()

	link, err := st.PresignedURL(ctx, "exports/p/a.zip", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/exports/exports/p/a.zip", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
