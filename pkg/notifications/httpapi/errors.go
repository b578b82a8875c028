package httpapi

import "errors"

var (
	ErrMissingContentType   = errors.New("missing content type")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidJSON          = errors.New("invalid JSON body")
)
