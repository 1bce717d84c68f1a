package web

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazouio/gazou/pkg/auth"
	"github.com/gazouio/gazou/pkg/events"
	"github.com/gazouio/gazou/pkg/kv"
	"github.com/gazouio/gazou/pkg/search"
	"github.com/gazouio/gazou/pkg/store"
	"github.com/gazouio/gazou/pkg/uid"
)

type fakeBlobs struct {
	mu   sync.Mutex
	puts map[string][]byte
	fail bool
}

func (b *fakeBlobs) Put(ctx context.Context, key, imgType string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return assert.AnError
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[key] = data
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeBlobs) {
	t.Helper()
	st := store.New(kv.NewMemory())
	engine := search.New(st, search.Options{})
	t.Cleanup(engine.Close)
	handlers := events.New(st, engine, auth.New(auth.LogNotifier{}, auth.Options{}), nil, events.Options{
		ImageURL: "https://img.example.com",
	})
	blobs := &fakeBlobs{}
	srv := NewServer(st, handlers, blobs, nil, Options{ImageURL: "https://img.example.com"})
	return srv, st, blobs
}

func registerImage(t *testing.T, st *store.Store, data []byte) string {
	t.Helper()
	id, err := uid.New()
	require.NoError(t, err)
	sum := sha1.Sum(data)
	now := time.Now().UnixMilli()
	require.NoError(t, st.AddMetadata(context.Background(), &store.Image{
		UUID:         id,
		Hash:         hex.EncodeToString(sum[:]),
		Artist:       "pablo",
		Uploader:     "u1",
		Type:         "png",
		DateAdded:    now,
		DateModified: now,
		Tags:         []string{"cubism"},
	}))
	return id
}

func multipartBody(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "image.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload_CommitsBytesAndReturnsLink(t *testing.T) {
	srv, st, blobs := newTestServer(t)
	data := []byte("png bytes here")
	id := registerImage(t, st, data)

	body, contentType := multipartBody(t, data)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+id, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://img.example.com/"+id+".png", resp["link"])
	assert.Equal(t, data, blobs.puts[id+".png"])

	img, err := st.GetMetadata(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, img.Uploaded)
	assert.EqualValues(t, len(data), img.Size)
}

func TestUpload_HashMismatchRejected(t *testing.T) {
	srv, st, blobs := newTestServer(t)
	id := registerImage(t, st, []byte("registered bytes"))

	body, contentType := multipartBody(t, []byte("different bytes"))
	req := httptest.NewRequest(http.MethodPost, "/upload/"+id, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, blobs.puts)
}

func TestUpload_SecondUploadIsGone(t *testing.T) {
	srv, st, _ := newTestServer(t)
	data := []byte("png bytes")
	id := registerImage(t, st, data)
	require.NoError(t, st.SetImageUploaded(context.Background(), id))

	body, contentType := multipartBody(t, data)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+id, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestUpload_UnregisteredImageIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("bytes"))
	req := httptest.NewRequest(http.MethodPost, "/upload/49bc0f94-bde5-11e8-a355-529269fb1459", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_BlobFailureRollsBack(t *testing.T) {
	srv, st, blobs := newTestServer(t)
	blobs.fail = true
	data := []byte("png bytes")
	id := registerImage(t, st, data)

	body, contentType := multipartBody(t, data)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+id, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	uploaded, err := st.ImageIsUploaded(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, uploaded, "client can retry after a blob failure")
}

func TestGetSingleMirror(t *testing.T) {
	srv, st, _ := newTestServer(t)
	id := registerImage(t, st, []byte("png bytes"))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get/single/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	assert.Equal(t, id, fields["uuid"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get/single/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchTagsMirror_UnknownTag(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/tags?tag=blue", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "blue")
}
