package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can map it without string matching.
type Kind string

const (
	KindStorageUnavailable  Kind = "StorageUnavailable"
	KindExtractionFailed    Kind = "ExtractionFailed"
	KindVectorIndexFailed   Kind = "VectorIndexFailed"
	KindMetadataWriteFailed Kind = "MetadataWriteFailed"
	KindMetadataReadFailed  Kind = "MetadataReadFailed"
	KindNotFound            Kind = "NotFound"
	KindInvalidInput        Kind = "InvalidInput"
)

// Error is the typed error returned by Ingest, Delete and SearchByImage.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels such as ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable}
	ErrExtractionFailed    = &Error{Kind: KindExtractionFailed}
	ErrVectorIndexFailed   = &Error{Kind: KindVectorIndexFailed}
	ErrMetadataWriteFailed = &Error{Kind: KindMetadataWriteFailed}
	ErrMetadataReadFailed  = &Error{Kind: KindMetadataReadFailed}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
)

var (
	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrExtractorRequired is returned when an embedding extractor is not provided.
	ErrExtractorRequired = errors.New("embedding extractor required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrMetadataStoreRequired is returned when a metadata store is not provided.
	ErrMetadataStoreRequired = errors.New("metadata store required")
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
