package api

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// ResponseWriter receives a dispatched response. The HTTP transport writes it
// to the wire; internal callers use Discard.
type ResponseWriter interface {
	Write(status int, contentType string, body []byte)
}

// Discard is a ResponseWriter that drops everything. Rules and schedules
// dispatch through it.
type Discard struct{}

func (Discard) Write(int, string, []byte) {}

// Recorder keeps the last response. Useful for management calls and tests.
type Recorder struct {
	Status      int
	ContentType string
	Body        []byte
}

func (r *Recorder) Write(status int, contentType string, body []byte) {
	r.Status = status
	r.ContentType = contentType
	r.Body = append(r.Body[:0], body...)
}

const contentTypeJSON = "application/json"

// ErrorType is a Hue API error code.
type ErrorType int

const (
	ErrUnauthorized         ErrorType = 1
	ErrInvalidJSON          ErrorType = 2
	ErrResourceNotAvailable ErrorType = 3
	ErrLinkButton           ErrorType = 101
	ErrAction               ErrorType = 608
	ErrInternal             ErrorType = 901
)

func (t ErrorType) Description() string {
	switch t {
	case ErrUnauthorized:
		return "unauthorized user"
	case ErrInvalidJSON:
		return "body contains invalid JSON"
	case ErrResourceNotAvailable:
		return "resource not available"
	case ErrLinkButton:
		return "link button not pressed"
	case ErrAction:
		return "action error"
	case ErrInternal:
		return "internal error"
	}
	return ""
}

// ErrorBody is the payload of an error entry.
type ErrorBody struct {
	Type        ErrorType `json:"type"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
}

func newErrorBody(t ErrorType, address string) ErrorBody {
	return ErrorBody{Type: t, Description: t.Description(), Address: address}
}

// Multi accumulates a multi-status response.
type Multi struct {
	entries []map[string]any
}

// Success appends {"success": {key: value}}.
func (m *Multi) Success(key string, value any) {
	m.entries = append(m.entries, map[string]any{"success": map[string]any{key: value}})
}

// Error appends a typed error entry.
func (m *Multi) Error(t ErrorType, address string) {
	m.entries = append(m.entries, map[string]any{"error": newErrorBody(t, address)})
}

// Len returns the number of entries.
func (m *Multi) Len() int {
	return len(m.entries)
}

func (m *Multi) marshal() []byte {
	if m.entries == nil {
		return []byte("[]")
	}
	data, err := json.Marshal(m.entries)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode multi-status response")
		return []byte("[]")
	}
	return data
}

func writeMulti(w ResponseWriter, m *Multi) {
	w.Write(200, contentTypeJSON, m.marshal())
}

// WriteError answers with a single typed error wrapped in an array.
func WriteError(w ResponseWriter, t ErrorType, address string) {
	writeError(w, t, address)
}

func writeError(w ResponseWriter, t ErrorType, address string) {
	data, _ := json.Marshal([]map[string]ErrorBody{{"error": newErrorBody(t, address)}})
	w.Write(200, contentTypeJSON, data)
}

// writeJSON writes v with internal fields removed.
func writeJSON(w ResponseWriter, v any) {
	data, err := MarshalPublic(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		writeError(w, ErrInternal, "")
		return
	}
	w.Write(200, contentTypeJSON, data)
}

// writeRaw writes v as is.
func writeRaw(w ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		writeError(w, ErrInternal, "")
		return
	}
	w.Write(200, contentTypeJSON, data)
}

func writeNotFound(w ResponseWriter) {
	w.Write(404, "", nil)
}

// MarshalPublic encodes v as JSON, dropping every object key that starts with "_".
func MarshalPublic(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(stripInternal(generic))
}

func stripInternal(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.HasPrefix(k, "_") {
				delete(t, k)
				continue
			}
			t[k] = stripInternal(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = stripInternal(val)
		}
		return t
	}
	return v
}
