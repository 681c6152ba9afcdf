package handlers

import "errors"

// Request validation failures surfaced to API clients as 400 messages.
var (
	errInvalidBody       = errors.New("Invalid request body")
	errEmptyContent      = errors.New("Document content must not be empty")
	errUnknownSourceKind = errors.New("Unknown source kind; expected image, pdf or text")
)
