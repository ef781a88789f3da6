package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"threatgate/metrics"
	"threatgate/util"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultCacheSize = 16
	// DefaultMaxSize caps any single fetched resource.
	DefaultMaxSize int64 = 10 * 1024 * 1024
)

var (
	// ErrAuthFailed is returned when a remote server rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrResourceTooLarge is returned when a resource exceeds the size limit.
	ErrResourceTooLarge = errors.New("resource exceeds size limit")
	// ErrNoClasspath is returned for classpath locations when no embedded
	// filesystem was configured.
	ErrNoClasspath = errors.New("no classpath configured")
)

// S3API is the subset of the S3 client the locator uses.
type S3API interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// Credentials authenticate remote fetches: HTTP basic auth, or a static
// access key pair for S3.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == ""
}

// Locator fetches resources by location and caches the bytes, so a batch of
// models sharing one library downloads it once. Safe for concurrent use.
type Locator struct {
	classpath   fs.FS
	httpClient  *http.Client
	credentials Credentials
	timeout     time.Duration
	maxSize     int64
	cacheSize   int
	cache       *lru.Cache[string, []byte]
	logger      *zap.SugaredLogger

	s3Region string
	s3Mu     sync.Mutex
	s3Client S3API
}

// Option configures a Locator.
type Option func(*Locator)

// WithClasspath sets the filesystem classpath: locations are read from.
func WithClasspath(fsys fs.FS) Option {
	return func(l *Locator) {
		l.classpath = fsys
	}
}

// WithCredentials sets the credentials sent with remote fetches.
func WithCredentials(username, password string) Option {
	return func(l *Locator) {
		l.credentials = Credentials{Username: username, Password: password}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Locator) {
		if client != nil {
			l.httpClient = client
		}
	}
}

// WithS3Client replaces the lazily created S3 client.
func WithS3Client(client S3API) Option {
	return func(l *Locator) {
		l.s3Client = client
	}
}

// WithS3Region sets the region of the lazily created S3 client.
func WithS3Region(region string) Option {
	return func(l *Locator) {
		l.s3Region = region
	}
}

// WithTimeout bounds each remote fetch.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Locator) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// WithMaxSize caps the size of a fetched resource.
func WithMaxSize(maxSize int64) Option {
	return func(l *Locator) {
		if maxSize > 0 {
			l.maxSize = maxSize
		}
	}
}

// WithCacheSize sets how many resources are kept. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(l *Locator) {
		l.cacheSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocator creates a Locator.
func NewLocator(opts ...Option) (*Locator, error) {
	l := &Locator{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		maxSize:    DefaultMaxSize,
		cacheSize:  DefaultCacheSize,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.cacheSize < 0 {
		return nil, fmt.Errorf("cache size cannot be negative: %d", l.cacheSize)
	}
	if l.cacheSize > 0 {
		cache, err := lru.New[string, []byte](l.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// Fetch returns the content at location. Callers must not modify the
// returned slice as it may be shared with the cache.
func (l *Locator) Fetch(ctx context.Context, location string) ([]byte, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.cache != nil {
		if data, ok := l.cache.Get(loc.Raw); ok {
			metrics.ResourceFetchesTotal.WithLabelValues(string(loc.Scheme), "hit").Inc()
			l.logger.Debugw("Resource served from cache", "location", util.RedactLocation(loc.Raw))
			return data, nil
		}
	}

	start := time.Now()
	var data []byte
	switch loc.Scheme {
	case SchemeClasspath:
		data, err = l.fetchClasspath(loc)
	case SchemeFile:
		data, err = l.fetchFile(loc)
	case SchemeHTTP, SchemeHTTPS:
		data, err = l.fetchHTTP(ctx, loc)
	case SchemeS3:
		data, err = l.fetchS3(ctx, loc)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedScheme, loc.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", util.RedactLocation(loc.Raw), err)
	}

	metrics.ResourceFetchesTotal.WithLabelValues(string(loc.Scheme), "miss").Inc()
	l.logger.Debugw("Fetched resource",
		"location", util.RedactLocation(loc.Raw),
		"scheme", loc.Scheme,
		"bytes", len(data),
		"duration", time.Since(start))

	if l.cache != nil {
		l.cache.Add(loc.Raw, data)
	}
	return data, nil
}

func (l *Locator) fetchClasspath(loc Location) ([]byte, error) {
	if l.classpath == nil {
		return nil, ErrNoClasspath
	}
	f, err := l.classpath.Open(loc.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Locator) fetchFile(loc Location) ([]byte, error) {
	path, err := util.ValidateFilePathRelaxed(loc.Path, false)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Locator) fetchHTTP(ctx context.Context, loc Location) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/yaml, application/json, text/plain, */*")
	if !l.credentials.empty() {
		req.SetBasicAuth(l.credentials.Username, l.credentials.Password)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > l.maxSize {
		return nil, ErrResourceTooLarge
	}
	return l.readLimited(resp.Body)
}

func (l *Locator) fetchS3(ctx context.Context, loc Location) ([]byte, error) {
	client, err := l.s3()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Host),
		Key:    aws.String(loc.Path),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > l.maxSize {
		return nil, ErrResourceTooLarge
	}
	return l.readLimited(out.Body)
}

// s3 returns the configured client or creates one from the default AWS
// credential chain. Locator credentials are used as a static key pair.
func (l *Locator) s3() (S3API, error) {
	l.s3Mu.Lock()
	defer l.s3Mu.Unlock()

	if l.s3Client != nil {
		return l.s3Client, nil
	}

	cfg := &aws.Config{}
	if l.s3Region != "" {
		cfg.Region = aws.String(l.s3Region)
	}
	if !l.credentials.empty() {
		cfg.Credentials = credentials.NewStaticCredentials(l.credentials.Username, l.credentials.Password, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	l.s3Client = s3.New(sess)
	return l.s3Client, nil
}

func (l *Locator) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxSize {
		return nil, ErrResourceTooLarge
	}
	return data, nil
}
