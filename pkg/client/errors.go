package client

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// Errors reported before any network I/O.
var (
	ErrNoBucket         = errors.New("client: no bucket in request and no default bucket configured")
	ErrMissingEndpoint  = errors.New("client: endpoint is required")
	ErrPayloadNotSeeker = errors.New("client: payload must be seekable for signing")
)

// ServiceError is a non-2xx response from the endpoint. It carries the
// status code and the raw body; Code and Message are filled in when the
// body is a standard S3 XML error document.
type ServiceError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: %s: %s: %s (http %d)", e.Op, e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("client: %s: http %d", e.Op, e.StatusCode)
}

type xmlError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// newServiceError builds a ServiceError, decoding the S3 error envelope when
// present. A body that is not XML is kept verbatim.
func newServiceError(op string, status int, body []byte) *ServiceError {
	e := &ServiceError{Op: op, StatusCode: status, Body: body}
	var xe xmlError
	if err := xml.Unmarshal(body, &xe); err == nil {
		e.Code = xe.Code
		e.Message = xe.Message
	}
	return e
}
