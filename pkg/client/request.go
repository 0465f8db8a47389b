package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/TheGU/minis3/pkg/auth"
)

// LogicalRequest is the signable description of one S3 operation. It is
// constructed fresh per call and never mutated once signing begins.
type LogicalRequest struct {
	Method  string
	Bucket  string
	Key     string
	Params  url.Values
	Headers http.Header
	Payload io.ReadSeeker
	Time    time.Time // zero means "now"
}

// buildHTTP assembles the wire request for lr. The path is encoded with the
// same routine the canonicalizer uses, and the query string is sorted, so
// the bytes that travel are the bytes that were signed.
func (c *Client) buildHTTP(ctx context.Context, lr *LogicalRequest) (*http.Request, error) {
	scheme := "http"
	if c.opts.TLS {
		scheme = "https"
	}
	host := c.opts.Endpoint
	path := "/" + lr.Bucket
	if c.opts.VirtualHost {
		host = lr.Bucket + "." + c.opts.Endpoint
		path = ""
	}
	if lr.Key != "" {
		path += "/" + strings.TrimPrefix(lr.Key, "/")
	}
	if path == "" {
		path = "/"
	}

	u := &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawPath:  auth.EscapePath(path),
		RawQuery: encodeQuery(lr.Params),
	}

	var body io.Reader
	if lr.Payload != nil {
		body = lr.Payload
	}
	req, err := http.NewRequestWithContext(ctx, lr.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if lr.Payload != nil {
		size, err := payloadSize(lr.Payload)
		if err != nil {
			return nil, err
		}
		// S3 rejects chunked transfer for plain PUTs.
		req.ContentLength = size
	}
	for name, vals := range lr.Headers {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}
	req.Host = host
	return req, nil
}

// payloadHash returns the hex SHA-256 of the payload, rewinding it for the
// transport. A nil payload hashes as the empty byte sequence.
func payloadHash(payload io.ReadSeeker) (string, error) {
	if payload == nil {
		return auth.EmptyPayloadHash, nil
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayloadNotSeeker, err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, payload); err != nil {
		return "", fmt.Errorf("client: hash payload: %w", err)
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayloadNotSeeker, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// payloadSize rewinds the payload and returns its full length.
func payloadSize(payload io.ReadSeeker) (int64, error) {
	end, err := payload.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPayloadNotSeeker, err)
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPayloadNotSeeker, err)
	}
	return end, nil
}

// encodeQuery renders params sorted by key then value, with strict
// percent-encoding. Parameters with an empty value render as bare keys the
// way S3 sub-resources are written.
func encodeQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(auth.EscapeQueryComponent(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(auth.EscapeQueryComponent(v))
			}
		}
	}
	return b.String()
}
