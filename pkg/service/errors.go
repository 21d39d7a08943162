package service

import "errors"

// Errors returned by Service operations. The HTTP layer maps them to status
// codes with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrMetadataUnavailable = errors.New("torrent metadata is not available yet")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrRemovalFailed       = errors.New("failed to remove torrent")
)
