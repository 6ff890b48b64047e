package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Request is an HTTP-shaped request handed to the dispatcher.
type Request struct {
	Method string
	Path   string
	Parts  []string
	Body   []byte
}

// NewRequest builds a request. The method is lowercased and the query string dropped.
func NewRequest(method, path string, body []byte) *Request {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return &Request{
		Method: strings.ToLower(method),
		Path:   path,
		Parts:  strings.Split(path, "/"),
		Body:   body,
	}
}

// decode unmarshals the body into v. An empty body decodes as {}.
func (r *Request) decode(v any) error {
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	return json.Unmarshal(body, v)
}
