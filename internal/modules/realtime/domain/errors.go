package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidCommand  = errors.New("invalid command")
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMalformedEvent  = errors.New("malformed event")
)

// ArgumentError reports a required field that is absent or has the wrong shape.
// Path is the dotted location of the field inside the inbound frame.
type ArgumentError struct {
	Kind error
	Path string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%v '%s'", e.Kind, e.Path)
}

func (e *ArgumentError) Unwrap() error {
	return e.Kind
}

func missingArgument(path string) error {
	return &ArgumentError{Kind: ErrMissingArgument, Path: path}
}

func invalidArgument(path string) error {
	return &ArgumentError{Kind: ErrInvalidArgument, Path: path}
}
