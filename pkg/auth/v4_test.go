package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

// Reference credentials from the AWS SigV4 test vectors.
const (
	testAccessKey = "AKIDEXAMPLE"
	testSecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	testAmzDate   = "20150830T123600Z"
)

func newV4(t *testing.T) *V4Signer {
	t.Helper()
	s, err := NewSigner(VersionV4, Credentials{AccessKey: testAccessKey, SecretKey: testSecretKey},
		"s3.amazonaws.com", "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s.(*V4Signer)
}

func TestCanonicalRequestEmptyPayload(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "https://s3.amazonaws.com/my-bucket/docs/readme.txt", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Amz-Date", testAmzDate)

	canonical, signedHeaders := canonicalRequest(req, EmptyPayloadHash)
	expect := strings.Join([]string{
		"PUT",
		"/my-bucket/docs/readme.txt",
		"",
		"host:s3.amazonaws.com\nx-amz-date:" + testAmzDate + "\n",
		"host;x-amz-date",
		EmptyPayloadHash,
	}, "\n")
	if canonical != expect {
		t.Errorf("canonical request mismatch:\ngot:\n%q\nwant:\n%q", canonical, expect)
	}
	if signedHeaders != "host;x-amz-date" {
		t.Errorf("signed headers = %q, want host;x-amz-date", signedHeaders)
	}
}

// Uploading docs/readme.txt to my-bucket with an empty payload at the fixed
// reference timestamp must reproduce this exact Authorization header.
func TestSignKnownAnswer(t *testing.T) {
	s := newV4(t)
	req, _ := http.NewRequest(http.MethodPut, "https://s3.amazonaws.com/my-bucket/docs/readme.txt", nil)
	req.Header.Set("X-Amz-Date", testAmzDate)

	if err := s.Sign(req, "", time.Now()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	want := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/s3/aws4_request, " +
		"SignedHeaders=host;x-amz-date, " +
		"Signature=83b5d6c06365e33881883b57145ce52c8eed27549c1c6d08c1185648aef5c136"
	if got := req.Header.Get("Authorization"); got != want {
		t.Errorf("Authorization:\ngot  %q\nwant %q", got, want)
	}
}

func TestSignDeterministic(t *testing.T) {
	s := newV4(t)
	sign := func() string {
		req, _ := http.NewRequest(http.MethodGet, "https://s3.amazonaws.com/my-bucket/a%20key", nil)
		req.Header.Set("X-Amz-Date", testAmzDate)
		req.Header.Set("x-amz-storage-class", "REDUCED_REDUNDANCY")
		if err := s.Sign(req, "", time.Now()); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return req.Header.Get("Authorization")
	}
	first, second := sign(), sign()
	if first != second {
		t.Errorf("signing is not deterministic:\n%q\n%q", first, second)
	}
}

func TestSignQueryOrdering(t *testing.T) {
	s := newV4(t)
	req, _ := http.NewRequest(http.MethodGet, "https://s3.amazonaws.com/my-bucket?b=2&a=1", nil)
	req.Header.Set("X-Amz-Date", testAmzDate)
	req.Header.Set("Content-Type", "application/json")

	if got := canonicalQuery(req); got != "a=1&b=2" {
		t.Fatalf("canonical query = %q, want a=1&b=2", got)
	}
	if err := s.Sign(req, "", time.Now()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	want := "Signature=15140dbf683259f48835a879a18c814ad580a2f4fc006e9928ac6662dfc277f2"
	if got := req.Header.Get("Authorization"); !strings.HasSuffix(got, want) {
		t.Errorf("Authorization = %q, want suffix %q", got, want)
	}
}

func TestSignSetsAmzDate(t *testing.T) {
	s := newV4(t)
	req, _ := http.NewRequest(http.MethodGet, "https://s3.amazonaws.com/b/k", nil)
	req.Header.Set("Date", "Sun, 30 Aug 2015 12:36:00 GMT")

	at := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	if err := s.Sign(req, "", at); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got := req.Header.Get("X-Amz-Date"); got != testAmzDate {
		t.Errorf("X-Amz-Date = %q, want %q", got, testAmzDate)
	}
	if req.Header.Get("Date") != "" {
		t.Error("Date header should be dropped when X-Amz-Date is set")
	}
}

func TestCanonicalHeadersWhitespace(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://mock.s3.amazonaws.com/", nil)
	req.Header.Set("FooInnerSpace", "   inner      space    ")
	req.Header.Set("FooTabSpace", "\ttab-space\t")
	req.Header.Add("FooMultiple", "no-space")
	req.Header.Add("FooMultiple", "trailing-space    ")
	req.Header.Set("x-amz-date", testAmzDate)

	headers, signed := canonicalHeaders(req)
	expect := "fooinnerspace:inner space\n" +
		"foomultiple:no-space,trailing-space\n" +
		"footabspace:tab-space\n" +
		"host:mock.s3.amazonaws.com\n" +
		"x-amz-date:" + testAmzDate + "\n"
	if headers != expect {
		t.Errorf("canonical headers:\ngot  %q\nwant %q", headers, expect)
	}
	if want := "fooinnerspace;foomultiple;footabspace;host;x-amz-date"; signed != want {
		t.Errorf("signed headers = %q, want %q", signed, want)
	}
}

func TestCanonicalURIEscaping(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/b/plain.txt", "/b/plain.txt"},
		{"/b/with space", "/b/with%20space"},
		{"/b/un~re.se_rv-ed", "/b/un~re.se_rv-ed"},
		{"/b/a+b=c", "/b/a%2Bb%3Dc"},
	}
	for _, c := range cases {
		if got := canonicalURI(c.in); got != c.want {
			t.Errorf("canonicalURI(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRegionFromEndpoint(t *testing.T) {
	cases := []struct{ endpoint, want string }{
		{"s3.amazonaws.com", "us-east-1"},
		{"s3-eu-west-1.amazonaws.com", "eu-west-1"},
		{"bucket.s3.ap-southeast-2.amazonaws.com", "ap-southeast-2"},
		{"minio:9000", "us-east-1"},
		{"localhost:9000", "us-east-1"},
	}
	for _, c := range cases {
		if got := RegionFromEndpoint(c.endpoint); got != c.want {
			t.Errorf("RegionFromEndpoint(%q) = %q, want %q", c.endpoint, got, c.want)
		}
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner("v9", Credentials{AccessKey: "a", SecretKey: "b"}, "e", ""); err == nil {
		t.Error("expected error for unknown version")
	}
	if _, err := NewSigner(VersionV4, Credentials{}, "e", ""); err == nil {
		t.Error("expected error for missing credentials")
	}
	s, err := NewSigner(VersionV4, Credentials{AccessKey: "a", SecretKey: "b"}, "s3-eu-west-1.amazonaws.com", "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if got := s.(*V4Signer).Region(); got != "eu-west-1" {
		t.Errorf("derived region = %q, want eu-west-1", got)
	}
}
