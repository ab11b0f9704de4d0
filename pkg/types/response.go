// Package types holds the wire envelopes shared by all HTTP responses.
package types

// SuccessEnvelope wraps every successful response body. Entitlement denials
// travel inside Data, not as errors.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape. Details is populated only for codes
// whose metadata allows it.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
