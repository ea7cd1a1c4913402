package models

import "errors"

var (
	// ErrTransport marks feed, historical or rate lookups that failed; retried, never fatal.
	ErrTransport = errors.New("transport error")
	// ErrParse marks an upstream message that could not be decoded; dropped and counted.
	ErrParse = errors.New("parse error")
	// ErrDataInsufficient marks a baseline computed from too few bars.
	ErrDataInsufficient = errors.New("insufficient data")
	// ErrConfiguration marks invalid rule or query parameters.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrUnrecoverable stops the ingestor for good.
	ErrUnrecoverable = errors.New("unrecoverable error")
)
