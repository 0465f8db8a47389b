// Package auth implements AWS request signing for S3-compatible endpoints.
// Two signature protocols are supported: the legacy Signature V2
// (HMAC-SHA1, "AWS <key>:<sig>") and Signature V4 (HMAC-SHA256 chain,
// "AWS4-HMAC-SHA256 Credential=..."). A Signer is selected once per
// connection; signing itself is a pure function of the request, the
// credentials and the timestamp.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Signature version identifiers accepted by NewSigner.
const (
	VersionV2 = "s3"
	VersionV4 = "s3v4"
)

// Errors returned by the signers.
var (
	ErrUnknownVersion     = errors.New("auth: unknown signature version")
	ErrMissingCredentials = errors.New("auth: access key and secret key are required")
)

// Credentials is an immutable access/secret key pair. It is never logged
// and never serialized outside a signature computation.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Valid reports whether both keys are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

// Signer adds an Authorization header (and the protocol's date header) to an
// HTTP request. payloadHash is the hex SHA-256 of the request body; V2
// ignores it. Implementations are stateless and safe for concurrent use.
type Signer interface {
	Sign(req *http.Request, payloadHash string, now time.Time) error
}

// NewSigner selects a signer variant for the given version string.
// region is only consulted by V4; when empty it is derived from the
// endpoint hostname, defaulting to us-east-1.
func NewSigner(version string, creds Credentials, endpoint, region string) (Signer, error) {
	if !creds.Valid() {
		return nil, ErrMissingCredentials
	}
	switch version {
	case VersionV2:
		return &V2Signer{creds: creds}, nil
	case VersionV4:
		if region == "" {
			region = RegionFromEndpoint(endpoint)
		}
		return &V4Signer{creds: creds, region: region, service: "s3"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
}

// RegionFromEndpoint extracts the AWS region from an S3 endpoint hostname.
// Non-AWS endpoints map to us-east-1.
func RegionFromEndpoint(endpoint string) string {
	host := strings.ToLower(endpoint)
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	switch {
	case strings.Contains(host, "s3.amazonaws.com"):
		return "us-east-1"
	case strings.Contains(host, "s3-") && strings.Contains(host, ".amazonaws.com"):
		r := strings.SplitN(host, "s3-", 2)[1]
		return strings.SplitN(r, ".amazonaws.com", 2)[0]
	case strings.Contains(host, ".s3.") && strings.Contains(host, ".amazonaws.com"):
		r := strings.SplitN(host, ".s3.", 2)[1]
		return strings.SplitN(r, ".amazonaws.com", 2)[0]
	default:
		return "us-east-1"
	}
}
