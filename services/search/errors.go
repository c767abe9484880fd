package search

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrSearchFailed = errors.New("search failed")
)

type FileNotFoundError struct {
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s: %s", e.Path, e.Err)
}

func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrFileNotFound
}

func (e *FileNotFoundError) Unwrap() error {
	return e.Err
}

type SearchError struct {
	Reason string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed: %s", e.Reason)
}

func (e *SearchError) Is(target error) bool {
	return target == ErrSearchFailed
}
