package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return e.Message()
}

// Message extracts a structured message from the body ("detail" first, then
// "message"), falling back to one derived from the status code
func (e *HTTPError) Message() string {
	if msg := extractMessage(e.Body); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// StatusText is the canonical reason phrase for the status
func (e *HTTPError) StatusText() string {
	return http.StatusText(e.Status)
}

// NetworkError is returned when the request never produced a response
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DomainInfo is a non-error terminal outcome signalled by the server,
// tagged as {"type":"info","message":"..."}
type DomainInfo struct {
	Message string
}

func (e *DomainInfo) Error() string {
	return e.Message
}

// ParseDomainInfo reports whether body carries the tagged info payload
func ParseDomainInfo(body []byte) (*DomainInfo, bool) {
	var payload struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Detail  *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return nil, false
	}
	if strings.EqualFold(payload.Type, "info") && payload.Message != "" {
		return &DomainInfo{Message: payload.Message}, true
	}
	// FastAPI wraps HTTPException payloads in "detail"
	if payload.Detail != nil && strings.EqualFold(payload.Detail.Type, "info") && payload.Detail.Message != "" {
		return &DomainInfo{Message: payload.Detail.Message}, true
	}
	return nil, false
}

type messageBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed messageBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(body))
		if rerr != nil || json.Unmarshal([]byte(repaired), &parsed) != nil {
			return ""
		}
	}

	if detail := detailString(parsed.Detail); detail != "" {
		return detail
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}

// detailString accepts "detail" as a plain string or as an object with a message
func detailString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}
