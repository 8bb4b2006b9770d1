package lbltools

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, cfg Config, opts ...ResolverOption) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg, opts...)
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func hashPrefix(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:6]
}

func TestConcatURLs(t *testing.T) {
	assert.Equal(t, "http://host/data/x", ConcatURLs("http://host/", "/data/x"))
	assert.Equal(t, "http://host/data/x", ConcatURLs("http://host", "data/x"))
}

func TestLocalPathLocalStorage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset 1", "a.jpg"), "img")

	r := newTestResolver(t, Config{DocumentRoot: root})
	p, err := r.LocalPath(context.Background(), "/data/local-files/?d=dataset%201/a.jpg",
		Options{ImageDir: filepath.Join(root, "missing"), CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dataset 1", "a.jpg"), p)
}

func TestLocalPathUpload(t *testing.T) {
	project := t.TempDir()
	cache := t.TempDir()
	writeFile(t, filepath.Join(project, "upload", "12", "img.png"), "png")

	r := newTestResolver(t, Config{})
	for _, ref := range []string{"upload/12/img.png", "/upload/12/img.png", "/data/upload/12/img.png"} {
		p, err := r.LocalPath(context.Background(), ref, Options{ProjectDir: project, CacheDir: cache})
		require.NoError(t, err, ref)
		assert.Equal(t, filepath.Join(project, "upload", "12", "img.png"), p)
	}

	copied, err := os.ReadFile(filepath.Join(cache, "img.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(copied))
}

func TestLocalPathLocalStorageFallsBackToUpload(t *testing.T) {
	root := t.TempDir()
	imageDir := t.TempDir()
	writeFile(t, filepath.Join(imageDir, "5", "img.png"), "png")

	r := newTestResolver(t, Config{DocumentRoot: root})
	p, err := r.LocalPath(context.Background(), "/data/upload/5/img.png?d=moved/img.png",
		Options{ImageDir: imageDir, CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(imageDir, "5", "img.png"), p)
}

func TestLocalPathRequiresServerSettings(t *testing.T) {
	opts := Options{ImageDir: filepath.Join(t.TempDir(), "missing"), CacheDir: t.TempDir()}
	ctx := context.Background()

	r := newTestResolver(t, Config{})
	_, err := r.LocalPath(ctx, "/data/upload/1/x.png", opts)
	assert.ErrorIs(t, err, ErrHostnameRequired)
	_, err = r.LocalPath(ctx, "s3://bucket/x.png", opts)
	assert.ErrorIs(t, err, ErrHostnameRequired)

	r = newTestResolver(t, Config{Hostname: "http://ls:8080"})
	_, err = r.LocalPath(ctx, "gs://bucket/x.png", opts)
	assert.ErrorIs(t, err, ErrTaskIDRequired)
	_, err = r.LocalPath(ctx, "/data/local-files/?d=missing.png", opts)
	assert.ErrorIs(t, err, ErrAccessTokenRequired)
}

func TestLocalPathDownloadsFromServer(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Token secret", req.Header.Get("Authorization"))
		assert.Equal(t, "/data/upload/3/f.txt", req.URL.Path)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	opts := Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache}
	r := newTestResolver(t, Config{Hostname: srv.URL + "/", AccessToken: "secret"})

	before := testutil.ToFloat64(resolveTotal.WithLabelValues(kindUpload, outcomeDownloaded))
	p, err := r.LocalPath(context.Background(), "upload/3/f.txt", opts)
	require.NoError(t, err)

	wantURL := srv.URL + "/data/upload/3/f.txt"
	assert.Equal(t, filepath.Join(cache, hashPrefix(wantURL)+"__f.txt"), p)
	content, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
	assert.Equal(t, before+1, testutil.ToFloat64(resolveTotal.WithLabelValues(kindUpload, outcomeDownloaded)))

	// The second lookup is served from the cache.
	p2, err := r.LocalPath(context.Background(), "upload/3/f.txt", opts)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestLocalPathPresignsCloudFiles(t *testing.T) {
	var gotPath, gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotURI = req.URL.Query().Get("fileuri")
		_, _ = w.Write([]byte("object"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	r := newTestResolver(t, Config{Hostname: srv.URL, AccessToken: "secret"})
	p, err := r.LocalPath(context.Background(), "s3://bucket/dir/key.png",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache, TaskID: 7})
	require.NoError(t, err)

	assert.Equal(t, "/tasks/7/presign/", gotPath)
	assert.Equal(t, "s3://bucket/dir/key.png", gotURI)
	assert.True(t, strings.HasPrefix(filepath.Base(p), hashPrefix(srv.URL+"/tasks/7/presign/?fileuri=s3://bucket/dir/key.png")))
}

func TestLocalPathDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Empty(t, req.Header.Get("Authorization"))
		_, _ = w.Write([]byte("public"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	r := newTestResolver(t, Config{Hostname: "http://ls.example:8080", AccessToken: "secret"})
	p, err := r.LocalPath(context.Background(), srv.URL+"/media/video.mp4?x=1",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "__video.mp4"))
}

func TestLocalPathHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cache := t.TempDir()
	r := newTestResolver(t, Config{})
	_, err := r.LocalPath(context.Background(), srv.URL+"/missing.jpg",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	files, err := AllFilesFromDir(cache)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalPathSkipDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Error("unexpected request")
	}))
	defer srv.Close()

	cache := t.TempDir()
	r := newTestResolver(t, Config{})
	p, err := r.LocalPath(context.Background(), srv.URL+"/a.jpg",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache, SkipDownload: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, hashPrefix(srv.URL+"/a.jpg")+"__a.jpg"), p)
	assert.NoFileExists(t, p)
}

type fakeFetcher struct {
	bucket, key string
}

func (f *fakeFetcher) FetchObject(_ context.Context, bucket, key, destPath string) error {
	f.bucket, f.key = bucket, key
	return os.WriteFile(destPath, []byte("object"), 0644)
}

func TestLocalPathFetchesObjectsDirectly(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := t.TempDir()

	// Neither hostname nor task ID are needed.
	r := newTestResolver(t, Config{}, WithObjectFetcher(fetcher))
	p, err := r.LocalPath(context.Background(), "s3://frames/videos/clip.mp4",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache})
	require.NoError(t, err)

	assert.Equal(t, "frames", fetcher.bucket)
	assert.Equal(t, "videos/clip.mp4", fetcher.key)
	assert.Equal(t, filepath.Join(cache, hashPrefix("s3://frames/videos/clip.mp4")+"__clip.mp4"), p)
	assert.FileExists(t, p)

	// Other cloud URIs still go through the server.
	_, err = r.LocalPath(context.Background(), "gs://frames/clip.mp4",
		Options{ImageDir: filepath.Join(cache, "missing"), CacheDir: cache})
	assert.ErrorIs(t, err, ErrHostnameRequired)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("LABEL_STUDIO_URL", "http://ls:8080")
	t.Setenv("LABEL_STUDIO_API_KEY", "token")
	t.Setenv("LABEL_STUDIO_S3_ENDPOINT", "minio:9000")
	t.Setenv("LABEL_STUDIO_S3_USE_SSL", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://ls:8080", cfg.Hostname)
	assert.Equal(t, "token", cfg.AccessToken)
	assert.Equal(t, "/", cfg.DocumentRoot)
	assert.Equal(t, "minio:9000", cfg.S3.Endpoint)
	assert.False(t, cfg.S3.UseSSL)
}

func TestWithTempDir(t *testing.T) {
	var dir string
	err := WithTempDir(func(d string) error {
		dir = d
		writeFile(t, filepath.Join(d, "a.txt"), "a")
		writeFile(t, filepath.Join(d, "b.txt"), "b")
		require.NoError(t, os.Mkdir(filepath.Join(d, "sub"), 0755))

		files, err := AllFilesFromDir(d)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(d, "a.txt"), filepath.Join(d, "b.txt")}, files)
		return nil
	})
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}
