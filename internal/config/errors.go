package config

import (
	"errors"
	"fmt"
)

var (
	errTokenUnavailable = errors.New("HA token unavailable: set HA_TOKEN or provide a token file")
	errTokenEmpty       = errors.New("token file is empty")
)

// TokenFileError reports a token file that exists in config but could
// not be used.
type TokenFileError struct {
	Path string
	Err  error
}

func (e *TokenFileError) Error() string {
	return fmt.Sprintf("HA token file %s: %v", e.Path, e.Err)
}

func (e *TokenFileError) Unwrap() error {
	return e.Err
}
