package bonusly

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned when a response carries neither a result nor a message.
var ErrMalformedEnvelope = errors.New("malformed response envelope")

// APIError is a failure reported by the API, carrying its message when one was sent.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bonusly: %s (status %d)", e.Message, e.StatusCode)
	}
	return "bonusly: " + e.Message
}

// envelope mirrors {success, result} | {success: false, message}. The success flag
// is not trusted; presence of result decides.
type envelope struct {
	Result  json.RawMessage `json:"result"`
	Message *string         `json:"message"`
	Success bool            `json:"success"`
}

// decodeEnvelope decodes the success shape into out, falling back to the error shape.
func decodeEnvelope(data []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null")) {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%w: decode result: %w", ErrMalformedEnvelope, err)
		}
		return nil
	}

	if env.Message != nil {
		return &APIError{Message: *env.Message}
	}

	return fmt.Errorf("%w: success=%t with no result or message", ErrMalformedEnvelope, env.Success)
}
