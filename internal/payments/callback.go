package payments

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedCallback is returned when a callback body cannot be
// normalized into a Signal.
var ErrMalformedCallback = errors.New("malformed callback payload")

// callbackEnvelope is the gateway's nested callback shape. Metadata item
// values are heterogeneous (strings and numbers).
type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback normalizes a raw callback body into a Signal. Anything
// that cannot be parsed, or that lacks the correlation key, is rejected
// here rather than failing during field access later.
func ParseCallback(body []byte) (Signal, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return Signal{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	sig := Signal{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if len(cb.CallbackMetadata.Item) > 0 {
		sig.Metadata = make(map[string]any, len(cb.CallbackMetadata.Item))
		for _, item := range cb.CallbackMetadata.Item {
			if item.Name == "" {
				continue
			}
			sig.Metadata[item.Name] = item.Value
		}
	}

	return sig, nil
}
