// Package client implements the synchronous S3 connection: it assembles
// logical requests from verb arguments, signs them with the configured
// signature version, executes them over HTTP(S) and translates non-2xx
// responses into typed failures. One Client is meant for use from one
// goroutine at a time; pkg/pool is the sanctioned way to parallelize.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheGU/minis3/pkg/auth"
	"github.com/TheGU/minis3/pkg/obs/tracing"
)

// Options fixes endpoint and addressing behavior for the lifetime of a
// Client.
type Options struct {
	// Endpoint is the S3 host, e.g. "s3.amazonaws.com" or "minio:9000".
	Endpoint string
	// TLS selects https when true.
	TLS bool
	// InsecureSkipVerify disables certificate verification. Verification is
	// on by default; opt out for self-signed development endpoints only.
	InsecureSkipVerify bool
	// SignatureVersion is auth.VersionV2 ("s3") or auth.VersionV4 ("s3v4").
	SignatureVersion string
	// DefaultBucket is used when a verb call omits the bucket.
	DefaultBucket string
	// Region scopes V4 credentials; derived from the endpoint when empty.
	Region string
	// VirtualHost addresses objects as bucket.endpoint/key instead of the
	// default /bucket/key on the endpoint host. Path style works against
	// AWS, MinIO and most S3-compatible services; enable this only for
	// endpoints that require virtual-hosted buckets.
	VirtualHost bool
	// Transport overrides the HTTP transport; a sane default honoring
	// InsecureSkipVerify is built otherwise. The transport is always
	// wrapped for tracing.
	Transport http.RoundTripper
	// Timeout bounds each request end to end. Zero means no client
	// timeout (the context still applies).
	Timeout time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Observer receives one observation per executed request. Implemented by
// pkg/obs/metrics; a nil observer is a no-op.
type Observer interface {
	ObserveRequest(op string, code int, d time.Duration)
}

// Response is the buffered outcome of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ETag returns the response ETag without surrounding quotes.
func (r *Response) ETag() string {
	return strings.Trim(r.Header.Get("ETag"), `"`)
}

// Client is an S3 connection: credentials, endpoint configuration and a
// signer, fixed at construction.
type Client struct {
	creds  auth.Credentials
	opts   Options
	signer auth.Signer
	httpc  *http.Client
	log    *slog.Logger
	obs    Observer
	now    func() time.Time
}

// New validates the configuration and constructs a Client.
func New(creds auth.Credentials, opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if opts.SignatureVersion == "" {
		opts.SignatureVersion = auth.VersionV4
	}
	signer, err := auth.NewSigner(opts.SignatureVersion, creds, opts.Endpoint, opts.Region)
	if err != nil {
		return nil, err
	}
	rt := opts.Transport
	if rt == nil {
		rt = newTransport(opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		creds:  creds,
		opts:   opts,
		signer: signer,
		httpc:  &http.Client{Transport: tracing.NewTransport(rt), Timeout: opts.Timeout},
		log:    logger,
		now:    time.Now,
	}, nil
}

// newTransport builds the default HTTP transport. Certificate verification
// stays on unless the caller opted out.
func newTransport(opts Options) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}
}

// SetObserver wires request metrics. Call before issuing requests.
func (c *Client) SetObserver(o Observer) { c.obs = o }

// bucket resolves the effective bucket for a call.
func (c *Client) bucket(b string) (string, error) {
	if b == "" {
		b = c.opts.DefaultBucket
	}
	if b == "" {
		return "", ErrNoBucket
	}
	return b, nil
}

// do signs and executes one logical request, buffering the response body.
// Non-2xx responses come back as *ServiceError.
func (c *Client) do(ctx context.Context, op string, lr *LogicalRequest) (*Response, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, op, lr)
	code := 0
	var se *ServiceError
	if resp != nil {
		code = resp.StatusCode
	} else if errors.As(err, &se) {
		code = se.StatusCode
	}
	if c.obs != nil {
		c.obs.ObserveRequest(op, code, time.Since(start))
	}
	if err != nil {
		c.log.Debug("request failed",
			slog.String("op", op),
			slog.String("bucket", lr.Bucket),
			slog.String("key", lr.Key),
			slog.Int("code", code),
		)
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, op string, lr *LogicalRequest) (*Response, error) {
	req, err := c.buildHTTP(ctx, lr)
	if err != nil {
		return nil, err
	}
	hash := ""
	if c.opts.SignatureVersion == auth.VersionV4 {
		hash, err = payloadHash(lr.Payload)
		if err != nil {
			return nil, err
		}
	}
	now := lr.Time
	if now.IsZero() {
		now = c.now()
	}
	if err := c.signer.Sign(req, hash, now); err != nil {
		return nil, fmt.Errorf("client: sign %s: %w", op, err)
	}

	hresp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s: transport: %w", op, err)
	}
	defer hresp.Body.Close()
	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: %s: read response: %w", op, err)
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return nil, newServiceError(op, hresp.StatusCode, body)
	}
	return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: body}, nil
}

// UploadOptions tune a single Upload call.
type UploadOptions struct {
	Bucket      string
	ContentType string
	// Expires sets Cache-Control max-age. ExpiresMax caches for a year.
	Expires    time.Duration
	ExpiresMax bool
	// Public adds x-amz-acl: public-read.
	Public  bool
	Headers http.Header
}

// Upload stores body under key with a PUT. Content type is taken from the
// options, guessed from the key extension otherwise.
func (c *Client) Upload(ctx context.Context, key string, body io.ReadSeeker, o *UploadOptions) (*Response, error) {
	if o == nil {
		o = &UploadOptions{}
	}
	bucket, err := c.bucket(o.Bucket)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Content-Type", contentTypeFor(key, o.ContentType))
	if o.Expires > 0 || o.ExpiresMax {
		headers.Set("Cache-Control", cacheControl(o.Expires, o.ExpiresMax, o.Public))
	}
	if o.Public {
		headers.Set("x-amz-acl", "public-read")
	}
	mergeHeaders(headers, o.Headers)

	return c.do(ctx, "upload", &LogicalRequest{
		Method: http.MethodPut, Bucket: bucket, Key: key,
		Headers: headers, Payload: body,
	})
}

// GetOptions tune a single Get or Head call.
type GetOptions struct {
	Bucket  string
	Headers http.Header
}

// Get downloads the object stored under key.
func (c *Client) Get(ctx context.Context, key string, o *GetOptions) (*Response, error) {
	if o == nil {
		o = &GetOptions{}
	}
	bucket, err := c.bucket(o.Bucket)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "get", &LogicalRequest{
		Method: http.MethodGet, Bucket: bucket, Key: key,
		Headers: cloneHeaders(o.Headers),
	})
}

// Head fetches object metadata without the body.
func (c *Client) Head(ctx context.Context, key string, o *GetOptions) (*Response, error) {
	if o == nil {
		o = &GetOptions{}
	}
	bucket, err := c.bucket(o.Bucket)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "head", &LogicalRequest{
		Method: http.MethodHead, Bucket: bucket, Key: key,
		Headers: cloneHeaders(o.Headers),
	})
}

// HeadBucket checks bucket existence and access.
func (c *Client) HeadBucket(ctx context.Context, bucket string) (*Response, error) {
	b, err := c.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "head_bucket", &LogicalRequest{
		Method: http.MethodHead, Bucket: b,
	})
}

// Delete removes the object stored under key.
func (c *Client) Delete(ctx context.Context, key, bucket string) (*Response, error) {
	b, err := c.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "delete", &LogicalRequest{
		Method: http.MethodDelete, Bucket: b, Key: key,
	})
}

// CopyOptions tune a Copy call. Metadata, when set, replaces the source
// metadata on the destination object.
type CopyOptions struct {
	Metadata map[string]string
	Public   bool
}

// Copy duplicates fromBucket/fromKey to toBucket/toKey server-side.
func (c *Client) Copy(ctx context.Context, fromKey, fromBucket, toKey, toBucket string, o *CopyOptions) (*Response, error) {
	if o == nil {
		o = &CopyOptions{}
	}
	if toBucket == "" {
		toBucket = fromBucket
	}
	b, err := c.bucket(toBucket)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("x-amz-copy-source", "/"+fromBucket+"/"+auth.EscapePath(strings.TrimPrefix(fromKey, "/")))
	if len(o.Metadata) > 0 {
		headers.Set("x-amz-metadata-directive", "REPLACE")
		for k, v := range o.Metadata {
			headers.Set(k, v)
		}
	} else {
		headers.Set("x-amz-metadata-directive", "COPY")
	}
	if o.Public {
		headers.Set("x-amz-acl", "public-read")
	}
	return c.do(ctx, "copy", &LogicalRequest{
		Method: http.MethodPut, Bucket: b, Key: toKey,
		Headers: headers,
	})
}

// UpdateMetadata rewrites an object's metadata via a copy onto itself.
func (c *Client) UpdateMetadata(ctx context.Context, key, bucket string, metadata map[string]string, public bool) (*Response, error) {
	b, err := c.bucket(bucket)
	if err != nil {
		return nil, err
	}
	md := metadata
	if md == nil {
		md = map[string]string{}
	}
	return c.Copy(ctx, key, b, key, b, &CopyOptions{Metadata: md, Public: public})
}

// CreateBucket creates a bucket on the endpoint.
func (c *Client) CreateBucket(ctx context.Context, bucket string) (*Response, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}
	return c.do(ctx, "create_bucket", &LogicalRequest{
		Method: http.MethodPut, Bucket: bucket,
	})
}

// DeleteBucket removes an empty bucket.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) (*Response, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}
	return c.do(ctx, "delete_bucket", &LogicalRequest{
		Method: http.MethodDelete, Bucket: bucket,
	})
}

func contentTypeFor(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// cacheControl renders max-age with the public/private directive.
func cacheControl(expires time.Duration, max, public bool) string {
	if max {
		expires = 365 * 24 * time.Hour
	}
	cc := fmt.Sprintf("max-age=%d", int64(expires.Seconds()))
	if public {
		return cc + ", public"
	}
	return cc + ", private"
}

func mergeHeaders(dst, src http.Header) {
	for k, vals := range src {
		dst.Del(k)
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func cloneHeaders(h http.Header) http.Header {
	out := http.Header{}
	mergeHeaders(out, h)
	return out
}

// queryValues builds url.Values from alternating key/value pairs, skipping
// empty values.
func queryValues(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}
