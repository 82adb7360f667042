package igrill

import "errors"

var (
	// ErrUnknownModel is returned for a model tag outside the supported set.
	ErrUnknownModel = errors.New("unknown model")
	// ErrMalformedPayload is returned when a characteristic value cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEncoding is returned for text payloads that are not valid UTF-8.
	ErrEncoding = errors.New("encoding error")
)
