package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// bucketVHostRE matches AWS virtual-hosted bucket hostnames, capturing the
// bucket prefix when present.
var bucketVHostRE = regexp.MustCompile(`(?i)^([a-z0-9\-]+\.)?s3([a-z0-9\-]+)?\.amazonaws\.com$`)

// subResourceKeys are the query parameters that belong to the V2
// canonicalized resource. Everything else is excluded from signing.
var subResourceKeys = map[string]struct{}{
	"acl":            {},
	"lifecycle":      {},
	"location":       {},
	"logging":        {},
	"notification":   {},
	"partNumber":     {},
	"policy":         {},
	"requestPayment": {},
	"torrent":        {},
	"uploadId":       {},
	"uploads":        {},
	"versionId":      {},
	"versioning":     {},
	"versions":       {},
	"website":        {},
}

// V2Signer implements the legacy AWS Signature Version 2 scheme, kept for
// older S3-compatible services.
type V2Signer struct {
	creds Credentials
}

// Sign computes the V2 signature and sets the Date and Authorization
// headers. The payload hash is not part of the V2 protocol and is ignored.
func (s *V2Signer) Sign(req *http.Request, _ string, now time.Time) error {
	if req.Header.Get("Date") == "" && req.Header.Get("x-amz-date") == "" {
		req.Header.Set("Date", now.UTC().Format(http.TimeFormat))
	}
	sts := stringToSignV2(req)
	mac := hmac.New(sha1.New, []byte(s.creds.SecretKey))
	mac.Write([]byte(sts))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", "AWS "+s.creds.AccessKey+":"+signature)
	return nil
}

// stringToSignV2 builds the V2 string-to-sign. Absent Content-MD5 or
// Content-Type sign as empty lines, and Date signs empty when an x-amz-date
// header carries the timestamp instead.
func stringToSignV2(req *http.Request) string {
	date := req.Header.Get("Date")
	if req.Header.Get("x-amz-date") != "" {
		date = ""
	}
	return strings.Join([]string{
		strings.ToUpper(req.Method),
		req.Header.Get("Content-MD5"),
		req.Header.Get("Content-Type"),
		date,
		canonicalizedAmzHeaders(req.Header) + canonicalizedResource(req.URL),
	}, "\n")
}

// canonicalizedAmzHeaders folds the x-amz-* headers: names lower-cased,
// duplicate values joined with commas, one name:value line per header,
// sorted by name.
func canonicalizedAmzHeaders(h http.Header) string {
	folded := make(map[string]string)
	for name, vals := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if cur, ok := folded[lower]; ok {
				folded[lower] = cur + "," + v
			} else {
				folded[lower] = v
			}
		}
	}
	names := make([]string, 0, len(folded))
	for name := range folded {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(folded[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// canonicalizedResource renders /bucket/key plus the signing sub-resources.
// Virtual-hosted AWS URLs contribute their bucket prefix; custom domains are
// treated as the bucket itself unless they look like a local endpoint.
func canonicalizedResource(u *url.URL) string {
	resource := u.Path
	if resource == "" {
		resource = "/"
	}
	host := u.Hostname()
	if host != "" {
		if m := bucketVHostRE.FindStringSubmatch(host); m != nil {
			if bucket := strings.TrimSuffix(m[1], "."); bucket != "" {
				resource = "/" + bucket + resource
			}
		} else if !isLocalEndpoint(host) {
			resource = "/" + host + resource
		}
	}
	return resource + subResourceQuery(u.RawQuery)
}

// isLocalEndpoint reports development hosts that must not be folded into the
// canonical resource as a bucket name.
func isLocalEndpoint(host string) bool {
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "minio") {
		return true
	}
	stripped := strings.NewReplacer(".", "", ":", "").Replace(host)
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return false
		}
	}
	return stripped != ""
}

// subResourceQuery keeps only the sub-resource parameters, sorted, rendered
// as ?k or ?k=v with the raw (already encoded) values.
func subResourceQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var subs []string
	for _, param := range strings.Split(rawQuery, "&") {
		key := param
		if i := strings.IndexByte(param, '='); i >= 0 {
			key = param[:i]
			if param[i+1:] == "" {
				param = key
			}
		}
		if _, ok := subResourceKeys[key]; ok {
			subs = append(subs, param)
		}
	}
	if len(subs) == 0 {
		return ""
	}
	sort.Strings(subs)
	return "?" + strings.Join(subs, "&")
}
