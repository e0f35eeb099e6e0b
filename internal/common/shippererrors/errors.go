// Package shippererrors contains the error types shared by the components of the log shipper.
//
// Callers should use errors.As from github.com/pkg/errors to look through wrapped errors for
// these types, and errors.WithStack when returning them so that the origin is logged.
// If several errors occur together (e.g., when closing multiple sinks), they are combined
// into a multierror.Error from package github.com/hashicorp/go-multierror.
package shippererrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformedRecord is returned when an input line can't be turned into a log record, either
// because it isn't a JSON object or because a required field is missing or unparsable.
type ErrMalformedRecord struct {
	Line   string // The raw input line
	Reason string // Why the line was rejected
}

func (err *ErrMalformedRecord) Error() string {
	return fmt.Sprintf("malformed record: %s", err.Reason)
}

// ErrInvalidConfig is returned when the configuration is invalid or incomplete.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidConfig struct {
	Name    string      // Name of the field referred to, e.g., "batchSize"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidConfig) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for config field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for config field %q; %s", err.Value, err.Name, err.Message)
}

// ErrSink is returned when a write to a downstream sink fails.
type ErrSink struct {
	Sink  string // e.g., "mongodb" or "kafka"
	Count int    // Number of records in the failed write
	Err   error
}

func (err *ErrSink) Error() string {
	return fmt.Sprintf("failed writing %d record(s) to sink %s: %v", err.Count, err.Sink, err.Err)
}

func (err *ErrSink) Unwrap() error {
	return err.Err
}

// ErrStreamRead is returned when reading the input stream fails for a reason other than end-of-input.
type ErrStreamRead struct {
	Err error
}

func (err *ErrStreamRead) Error() string {
	return fmt.Sprintf("error reading input stream: %v", err.Err)
}

func (err *ErrStreamRead) Unwrap() error {
	return err.Err
}

// ErrMaxRetriesExceeded is returned when an operation has been retried the configured number
// of times without succeeding.
type ErrMaxRetriesExceeded struct {
	Message   string
	LastError error
}

func (err *ErrMaxRetriesExceeded) Error() string {
	return fmt.Sprintf("exceeded maximum number of retries: %s; last error: %v", err.Message, err.LastError)
}

func (err *ErrMaxRetriesExceeded) Unwrap() error {
	return err.LastError
}

// IsMalformedRecord returns true if err, or any error it wraps, is an ErrMalformedRecord.
func IsMalformedRecord(err error) bool {
	var e *ErrMalformedRecord
	return errors.As(err, &e)
}

// IsInvalidConfig returns true if err, or any error it wraps, is an ErrInvalidConfig.
func IsInvalidConfig(err error) bool {
	var e *ErrInvalidConfig
	return errors.As(err, &e)
}

// IsSinkError returns true if err, or any error it wraps, is an ErrSink.
func IsSinkError(err error) bool {
	var e *ErrSink
	return errors.As(err, &e)
}
