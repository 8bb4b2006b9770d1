package lbltools

// Resolution of task file references to local files.

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Errors reported when a file reference cannot be resolved.
var (
	ErrHostnameRequired = errors.New(
		"cannot resolve url without a hostname; set LABEL_STUDIO_URL to the labeling server address")
	ErrTaskIDRequired      = errors.New("a task ID is required for cloud storage files")
	ErrAccessTokenRequired = errors.New(
		"an access token is required for uploaded and storage files; set LABEL_STUDIO_API_KEY")
)

// HTTPError is returned when a download fails with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Config holds the labeling server settings used to resolve file references.
type Config struct {
	// The labeling server base URL, e.g. "http://10.0.0.5:8080".
	Hostname string `env:"LABEL_STUDIO_URL"`
	// The API token for the labeling server.
	AccessToken string `env:"LABEL_STUDIO_API_KEY"`
	// The root directory of local storage files.
	DocumentRoot string `env:"LOCAL_FILES_DOCUMENT_ROOT" envDefault:"/"`
	// Direct object store access for s3:// URIs.
	S3 S3Config `envPrefix:"LABEL_STUDIO_S3_"`
}

// LoadConfig reads the Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Options control the resolution of a single file reference.
type Options struct {
	CacheDir     string // Download (and copy) target. Defaults to CacheDir().
	ProjectDir   string // The project directory; uploads are looked up in its "upload" subdir.
	ImageDir     string // The upload directory. Derived from ProjectDir or DataDir() if empty.
	SkipDownload bool   // Only return the cache path, without fetching remote files.
	TaskID       int    // The task the file belongs to. Required for cloud storage URIs.
}

// Reference kinds, as reported in the metrics.
const (
	kindLocalStorage = "local_storage"
	kindUpload       = "upload"
	kindCloud        = "cloud"
	kindURL          = "url"
)

// Resolver resolves file references found in tasks to local file paths.
type Resolver struct {
	cfg     Config
	client  *http.Client
	objects ObjectFetcher
	log     *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithObjectFetcher enables direct downloads of s3:// URIs through f.
func WithObjectFetcher(f ObjectFetcher) ResolverOption {
	return func(r *Resolver) { r.objects = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a Resolver. If cfg.S3.Endpoint is set and no ObjectFetcher is given, s3://
// URIs are fetched directly from that endpoint instead of being presigned by the server.
func NewResolver(cfg Config, opts ...ResolverOption) (*Resolver, error) {
	r := &Resolver{
		cfg:    cfg,
		client: http.DefaultClient,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.objects == nil && cfg.S3.Endpoint != "" {
		f, err := NewS3Fetcher(cfg.S3)
		if err != nil {
			return nil, err
		}
		r.objects = f
	}

	if strings.Contains(cfg.Hostname, "localhost") {
		r.log.Warn("The hostname uses localhost, which is not accessible inside of docker"+
			" containers; set LABEL_STUDIO_URL to an address reachable from here",
			zap.String("hostname", cfg.Hostname))
	}

	return r, nil
}

// ConcatURLs joins base and ref with exactly one slash.
func ConcatURLs(base, ref string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

// LocalPath returns a local file path for the file reference ref, which is one of
//
//   - an upload path ("upload/...", "/data/upload/<project>/<file>"),
//   - a local storage path ("/data/...?d=<path under the document root>"),
//   - a cloud storage URI ("s3://", "gs://", "azure-blob://"),
//   - any other URL.
//
// Uploads and local storage files are used in place if they exist locally. Everything else is
// downloaded from the labeling server (or the URL itself) into the cache directory, unless it is
// already cached. With opts.SkipDownload, the cache path is returned even if the file is not there.
func (r *Resolver) LocalPath(ctx context.Context, ref string, opts Options) (string, error) {
	imageDir := opts.ImageDir
	if imageDir == "" {
		if opts.ProjectDir != "" {
			imageDir = filepath.Join(opts.ProjectDir, "upload")
		} else {
			dataDir, err := DataDir()
			if err != nil {
				return "", err
			}
			imageDir = filepath.Join(dataDir, "media", "upload")
		}
		r.log.Debug("Using upload directory", zap.String("image_dir", imageDir))
	}

	if strings.HasPrefix(ref, "upload") {
		ref = "/data/" + ref
	} else if strings.HasPrefix(ref, "/upload") {
		ref = "/data" + ref
	}

	k := classify(ref)
	kind := kindURL
	switch {
	case k.localStorage:
		kind = kindLocalStorage
	case k.upload:
		kind = kindUpload
	case k.cloud:
		kind = kindCloud
	}

	p, outcome, err := r.resolve(ctx, ref, k, imageDir, opts)
	if err != nil {
		resolveTotal.WithLabelValues(kind, outcomeError).Inc()
		return "", err
	}
	resolveTotal.WithLabelValues(kind, outcome).Inc()
	return p, nil
}

// refKind classifies a file reference. A reference can be both a local storage file and an
// upload.
type refKind struct {
	localStorage bool // "/data/...?d=<path>"
	upload       bool // "/data/upload/..."
	cloud        bool // "s3://", "gs://", "azure-blob://"
}

func classify(ref string) refKind {
	var k refKind
	k.localStorage = strings.HasPrefix(ref, "/data/") && strings.Contains(ref, "?d=")
	k.upload = strings.HasPrefix(ref, "/data/upload")
	k.cloud = strings.HasPrefix(ref, "s3:") || strings.HasPrefix(ref, "gs:") ||
		strings.HasPrefix(ref, "azure-blob:")
	return k
}

func (r *Resolver) resolve(ctx context.Context, ref string, k refKind, imageDir string,
	opts Options) (string, string, error) {

	// Use the file under the document root if it is there, try the other locations otherwise.
	if k.localStorage {
		dirPath := ref[strings.Index(ref, "?d=")+len("?d="):]
		if unquoted, err := url.PathUnescape(dirPath); err == nil {
			dirPath = unquoted
		}
		p := filepath.Join(r.cfg.DocumentRoot, dirPath)
		if fileExists(p) {
			r.log.Debug("Local storage file exists locally", zap.String("path", p))
			return p, outcomeLocal, nil
		}
	}

	if k.upload && fileExists(imageDir) {
		// The query of local storage references is not part of the upload path.
		uploadPath, _, _ := strings.Cut(ref, "?")
		parts := strings.Split(uploadPath, "/")
		projectID := parts[len(parts)-2]
		p := filepath.Join(imageDir, projectID, path.Base(uploadPath))
		if opts.CacheDir != "" && !opts.SkipDownload {
			if err := copyFile(p, opts.CacheDir); err != nil {
				return "", "", fmt.Errorf("failed to copy %q to the cache: %w", p, err)
			}
		}
		r.log.Debug("Uploaded file exists in the upload directory", zap.String("path", p))
		return p, outcomeLocal, nil
	}

	if k.cloud && r.objects != nil && strings.HasPrefix(ref, "s3:") {
		return r.fetchObjectAndCache(ctx, ref, opts)
	}

	// Everything that lives on the labeling server needs its address and a token.
	if k.localStorage || k.upload || k.cloud {
		if r.cfg.Hostname == "" {
			return "", "", fmt.Errorf("%q: %w", ref, ErrHostnameRequired)
		}
		if k.cloud {
			if opts.TaskID == 0 {
				return "", "", fmt.Errorf("%q: %w", ref, ErrTaskIDRequired)
			}
			ref = ConcatURLs(r.cfg.Hostname, fmt.Sprintf("/tasks/%d/presign/?fileuri=%s", opts.TaskID, ref))
			r.log.Info("Resolving cloud storage file using the hostname",
				zap.String("hostname", r.cfg.Hostname), zap.String("url", ref))
		} else {
			ref = ConcatURLs(r.cfg.Hostname, ref)
			r.log.Info("Resolving url using the hostname",
				zap.String("hostname", r.cfg.Hostname), zap.String("url", ref))
		}
		if r.cfg.AccessToken == "" {
			return "", "", ErrAccessTokenRequired
		}
	}

	return r.downloadAndCache(ctx, ref, opts)
}

// cachePath returns the cache file path for ref: a short hash of ref followed by the last path
// element of the URL.
func cachePath(cacheDir, ref string, u *url.URL) string {
	sum := md5.Sum([]byte(ref))
	name := u.Path[strings.LastIndex(u.Path, "/")+1:]
	return filepath.Join(cacheDir, hex.EncodeToString(sum[:])[:6]+"__"+name)
}

func cacheDirFor(opts Options) (string, error) {
	if opts.CacheDir != "" {
		return opts.CacheDir, nil
	}
	return CacheDir()
}

// downloadAndCache downloads rawURL into the cache directory unless it is already cached.
func (r *Resolver) downloadAndCache(ctx context.Context, rawURL string, opts Options) (
	string, string, error) {

	cacheDir, err := cacheDirFor(opts)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	p := cachePath(cacheDir, rawURL, u)
	if fileExists(p) {
		return p, outcomeCached, nil
	}
	if opts.SkipDownload {
		return p, outcomeSkipped, nil
	}

	r.log.Info("Downloading", zap.String("url", rawURL), zap.String("path", p))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	// Only send the token to the labeling server itself.
	if r.cfg.AccessToken != "" && r.cfg.Hostname != "" {
		if host, err := url.Parse(r.cfg.Hostname); err == nil && host.Host == u.Host {
			req.Header.Set("Authorization", "Token "+r.cfg.AccessToken)
		}
	}

	if err := r.download(req, p); err != nil {
		return "", "", err
	}
	return p, outcomeDownloaded, nil
}

// download writes the response body for req to dest. The file is written under a temporary name
// first, so that failed downloads leave no partial cache entries.
func (r *Resolver) download(req *http.Request, dest string) (err error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", req.URL, err)
	}
	defer closeWithErrCheck(resp.Body, &err)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("cannot create cache file: %w", err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("download %s: %w", req.URL, err)
	}
	downloadBytesTotal.Add(float64(n))

	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// fetchObjectAndCache downloads the object named by the s3:// URI ref into the cache directory
// unless it is already cached.
func (r *Resolver) fetchObjectAndCache(ctx context.Context, ref string, opts Options) (
	string, string, error) {

	cacheDir, err := cacheDirFor(opts)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid uri %q: %w", ref, err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing bucket or key", ref)
	}

	p := cachePath(cacheDir, ref, u)
	if fileExists(p) {
		return p, outcomeCached, nil
	}
	if opts.SkipDownload {
		return p, outcomeSkipped, nil
	}

	r.log.Info("Fetching from object storage", zap.String("uri", ref), zap.String("path", p))
	if err := r.objects.FetchObject(ctx, bucket, key, p); err != nil {
		return "", "", err
	}
	if fi, err := os.Stat(p); err == nil {
		downloadBytesTotal.Add(float64(fi.Size()))
	}
	return p, outcomeDownloaded, nil
}
