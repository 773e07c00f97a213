package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies the failures the supervisor can recover from.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeStoreMissing ErrorType = "store_missing"
	ErrorTypeStoreCorrupt ErrorType = "store_corrupt"
	ErrorTypeSpawn        ErrorType = "spawn"
	ErrorTypeProcess      ErrorType = "process"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError is a structured error with a type and free-form context.
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on the error type, so errors.Is can compare against a bare
// DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext attaches a key/value pair for diagnostics.
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewStoreMissingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStoreMissing, message, cause)
}

func NewStoreCorruptError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStoreCorrupt, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsStoreMissingError(err error) bool {
	return isType(err, ErrorTypeStoreMissing)
}

func IsStoreCorruptError(err error) bool {
	return isType(err, ErrorTypeStoreCorrupt)
}

func IsSpawnError(err error) bool {
	return isType(err, ErrorTypeSpawn)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

// ErrorCollection aggregates failures from bulk operations such as
// fleet-wide shutdown.
type ErrorCollection struct {
	Errors []error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}
