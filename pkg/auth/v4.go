package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// SignV4Algorithm identifies the V4 signing scheme in Authorization headers.
	SignV4Algorithm = "AWS4-HMAC-SHA256"

	// EmptyPayloadHash is the hex SHA-256 of the empty byte sequence, used
	// whenever a request carries no body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"
)

// V4Signer implements AWS Signature Version 4 for the s3 service.
type V4Signer struct {
	creds   Credentials
	region  string
	service string
}

// Region returns the region the signer scopes its credentials to.
func (s *V4Signer) Region() string { return s.region }

// Sign computes the V4 signature and sets the X-Amz-Date and Authorization
// headers. An X-Amz-Date header already present on the request wins over
// now, which keeps signing deterministic for a fixed request.
func (s *V4Signer) Sign(req *http.Request, payloadHash string, now time.Time) error {
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}
	amzDate := req.Header.Get("X-Amz-Date")
	if amzDate == "" {
		amzDate = now.UTC().Format(amzDateFormat)
		req.Header.Set("X-Amz-Date", amzDate)
		// X-Amz-Date supersedes Date under V4.
		req.Header.Del("Date")
	}
	dateStamp := amzDate[:8]

	canonical, signedHeaders := canonicalRequest(req, payloadHash)
	scope := dateStamp + "/" + s.region + "/" + s.service + "/aws4_request"
	sts := stringToSign(amzDate, scope, canonical)

	key := s.signingKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(key, sts))

	req.Header.Set("Authorization", SignV4Algorithm+
		" Credential="+s.creds.AccessKey+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+signature)
	return nil
}

// signingKey chains HMAC-SHA256 over the scope components.
func (s *V4Signer) signingKey(dateStamp string) []byte {
	k := hmacSHA256([]byte("AWS4"+s.creds.SecretKey), dateStamp)
	k = hmacSHA256(k, s.region)
	k = hmacSHA256(k, s.service)
	return hmacSHA256(k, "aws4_request")
}

func stringToSign(amzDate, scope, canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return strings.Join([]string{
		SignV4Algorithm,
		amzDate,
		scope,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// canonicalRequest renders the request into the exact byte sequence the V4
// algorithm hashes, and returns it with the ;-joined signed-headers list.
func canonicalRequest(req *http.Request, payloadHash string) (canonical, signedHeaders string) {
	headers, signedHeaders := canonicalHeaders(req)
	return strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		canonicalQuery(req),
		headers,
		signedHeaders,
		payloadHash,
	}, "\n"), signedHeaders
}

// canonicalURI percent-encodes the decoded path per RFC 3986, keeping "/".
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return uriEncode(path, false)
}

// canonicalQuery sorts parameters by key then value and encodes each with
// the strict RFC 3986 rules (space as %20, not +).
func canonicalQuery(req *http.Request) string {
	query := req.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(uriEncode(k, true))
			b.WriteByte('=')
			b.WriteString(uriEncode(v, true))
		}
	}
	return b.String()
}

// canonicalHeaders lower-cases and sorts all request headers (plus Host),
// trims values and collapses runs of whitespace, and joins duplicate values
// with commas. Authorization is never part of the signature.
func canonicalHeaders(req *http.Request) (headers, signedHeaders string) {
	byName := make(map[string][]string)
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		byName[lower] = append(byName[lower], vals...)
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	byName["host"] = []string{host}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		trimmed := make([]string, 0, len(byName[name]))
		for _, v := range byName[name] {
			trimmed = append(trimmed, collapseSpaces(v))
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// collapseSpaces trims the value and folds any run of spaces or tabs into a
// single space, per the SigV4 header canonicalization rules.
func collapseSpaces(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range strings.TrimSpace(s) {
		if r == ' ' || r == '\t' {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapePath percent-encodes a decoded URL path exactly the way the V4
// canonicalizer does, so the wire path and the signed path always match.
func EscapePath(path string) string { return uriEncode(path, false) }

// EscapeQueryComponent percent-encodes a single query key or value with the
// strict RFC 3986 rules (space as %20).
func EscapeQueryComponent(s string) string { return uriEncode(s, true) }

const upperhex = "0123456789ABCDEF"

// uriEncode percent-encodes everything but the RFC 3986 unreserved set.
// Slash is kept verbatim in paths and encoded in query components.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		}
	}
	return b.String()
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}
