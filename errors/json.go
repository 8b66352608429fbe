package errors

import (
	"encoding/json"
)

// Response is the flat, serializable form of an error used by the CLI's
// JSON output. The wrapped chain is not included.
type Response struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Classification string         `json:"classification"`
	Context        map[string]any `json:"context,omitempty"`
}

// ToJSON converts err to a Response. Returns nil if err is nil.
// Plain errors are reported with CodeUnknown and their full message.
func ToJSON(err error) *Response {
	if err == nil {
		return nil
	}

	message := err.Error()
	var context map[string]any

	var ce Error
	if As(err, &ce) {
		message = ce.Message()
		context = ce.Context()
	}

	return &Response{
		Code:           string(GetCode(err)),
		Message:        message,
		Classification: string(GetClassification(err)),
		Context:        context,
	}
}

// MarshalJSON implements json.Marshaler.
func (e *cacheError) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToJSON(e))
}
