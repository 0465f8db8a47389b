package client

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ObjectInfo is one entry of a bucket listing.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	ETag         string
	Size         int64
	StorageClass string
}

// ListOptions tune a List call.
type ListOptions struct {
	Bucket string
	// MaxKeys caps the page size requested from the endpoint; the S3
	// default of 1000 applies when zero.
	MaxKeys int
}

type listBucketResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	IsTruncated bool          `xml:"IsTruncated"`
	NextMarker  string        `xml:"NextMarker"`
	Contents    []listedEntry `xml:"Contents"`
}

type listedEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// List returns all objects whose keys start with prefix, following marker
// pagination until the listing is no longer truncated.
func (c *Client) List(ctx context.Context, prefix string, o *ListOptions) ([]ObjectInfo, error) {
	if o == nil {
		o = &ListOptions{}
	}
	bucket, err := c.bucket(o.Bucket)
	if err != nil {
		return nil, err
	}
	maxKeys := ""
	if o.MaxKeys > 0 {
		maxKeys = strconv.Itoa(o.MaxKeys)
	}

	var out []ObjectInfo
	marker := ""
	for {
		resp, err := c.do(ctx, "list", &LogicalRequest{
			Method: http.MethodGet,
			Bucket: bucket,
			Params: queryValues("prefix", prefix, "marker", marker, "max-keys", maxKeys),
		})
		if err != nil {
			return nil, err
		}
		var page listBucketResult
		if err := xml.Unmarshal(resp.Body, &page); err != nil {
			return nil, fmt.Errorf("client: list: decode: %w", err)
		}
		for _, e := range page.Contents {
			info := ObjectInfo{
				Key:          e.Key,
				ETag:         trimQuotes(e.ETag),
				Size:         e.Size,
				StorageClass: e.StorageClass,
			}
			if t, err := time.Parse(time.RFC3339, e.LastModified); err == nil {
				info.LastModified = t
			}
			out = append(out, info)
		}
		if !page.IsTruncated || len(page.Contents) == 0 {
			return out, nil
		}
		marker = page.NextMarker
		if marker == "" {
			marker = page.Contents[len(page.Contents)-1].Key
		}
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
