package utils

import (
	"errors"
	"fmt"
)

// ReadError is a failed open, fetch or decode of one raster source.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// OutOfBoundsError reports a request window that does not intersect the
// source footprint. It is an empty result, not a failure.
type OutOfBoundsError struct {
	Source string
	Window string
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s does not intersect %s", e.Window, e.Source)
}

type BandNotFoundError struct {
	Scene string
	Band  string
}

func (e *BandNotFoundError) Error() string {
	return fmt.Sprintf("band %s not found in scene %s", e.Band, e.Scene)
}

// ConfigurationError is a request that names an unknown index, method or
// strategy.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

type BandMathError struct {
	Expression string
	Reason     string
}

func (e *BandMathError) Error() string {
	return fmt.Sprintf("invalid band math expression %q: %s", e.Expression, e.Reason)
}

type ReprojectionError struct {
	Source string
	Err    error
}

func (e *ReprojectionError) Error() string {
	return fmt.Sprintf("reproject %s: %v", e.Source, e.Err)
}

func (e *ReprojectionError) Unwrap() error { return e.Err }

func IsOutOfBounds(err error) bool {
	var oob *OutOfBoundsError
	return errors.As(err, &oob)
}

func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}

func IsBandNotFound(err error) bool {
	var bnf *BandNotFoundError
	return errors.As(err, &bnf)
}

func IsReprojection(err error) bool {
	var re *ReprojectionError
	return errors.As(err, &re)
}

// IsConfiguration matches ConfigurationError and BandMathError, the two
// kinds that reject a request before any data is read.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	var be *BandMathError
	return errors.As(err, &ce) || errors.As(err, &be)
}

// IsRecoverable reports whether a per band read failure can be replaced
// by a zero filled placeholder.
func IsRecoverable(err error) bool {
	return IsOutOfBounds(err) || IsReadError(err) || IsBandNotFound(err) || IsReprojection(err)
}
