package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Request is one backend call. The encoding is chosen by the caller through
// the concrete type: JSON or Multipart.
type Request interface {
	method() string
	endpoint() string
	// encode returns the payload and, if the payload's encoder dictates one,
	// its content type.
	encode() (body io.Reader, contentType string, err error)
}

// JSON is a request whose body, if any, is serialised as JSON.
type JSON struct {
	Method   string
	Endpoint string
	Body     any
}

func (r JSON) method() string   { return orGet(r.Method) }
func (r JSON) endpoint() string { return r.Endpoint }

func (r JSON) encode() (io.Reader, string, error) {
	if r.Body == nil {
		return nil, "application/json", nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("marshalling request: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// FormFile is one file part of a multipart payload.
type FormFile struct {
	Field string
	Name  string
	Data  []byte
}

// Multipart is a form-data request. The boundary-bearing Content-Type comes
// from the multipart writer, never from the gateway.
type Multipart struct {
	Method   string
	Endpoint string
	Files    []FormFile
	Fields   map[string]string
}

func (r Multipart) method() string   { return orPost(r.Method) }
func (r Multipart) endpoint() string { return r.Endpoint }

func (r Multipart) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range r.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", k, err)
		}
	}
	for _, f := range r.Files {
		part, err := mw.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("creating form file %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("writing form file %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart payload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func orGet(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}

func orPost(m string) string {
	if m == "" {
		return http.MethodPost
	}
	return m
}
