package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies adapter-level failures (config, IO, remote APIs).
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeExtraction ErrorType = "extraction"
)

// ErrorKind is the terminal failure reason of one extraction.
type ErrorKind string

const (
	KindNone                        ErrorKind = ""
	KindPrintPreviewDisabled        ErrorKind = "print_preview_disabled"
	KindNotPdfContent               ErrorKind = "not_pdf_content"
	KindPrintPreviewFailed          ErrorKind = "print_preview_failed"
	KindPrintPreviewCancelled       ErrorKind = "print_preview_cancelled"
	KindPrinterSettingsInvalid      ErrorKind = "printer_settings_invalid"
	KindNoDataForSession            ErrorKind = "no_data_for_session"
	KindAllocationFailed            ErrorKind = "allocation_failed"
	KindBitmapConverterDisconnected ErrorKind = "bitmap_converter_disconnected"
	KindInvalidBitmap               ErrorKind = "invalid_bitmap"
	KindFailedToGetPageCount        ErrorKind = "failed_to_get_page_count"
	KindFailedToEncode              ErrorKind = "failed_to_encode"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	label := string(e.Type)
	if e.Kind != KindNone {
		label = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", label, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", label, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError carrying the same non-empty Kind, so the
// Err* kind sentinels below work with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Kind != KindNone {
		return e.Kind == t.Kind
	}
	return t.Type != "" && e.Type == t.Type && t.Message == "" && t.Err == nil
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Fail creates a terminal extraction error of the given kind.
func Fail(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Type:    ErrorTypeExtraction,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the ErrorKind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindNone
}

// Kind sentinels for errors.Is.
var (
	ErrPrintPreviewDisabled        = &DomainError{Kind: KindPrintPreviewDisabled}
	ErrNotPdfContent               = &DomainError{Kind: KindNotPdfContent}
	ErrPrintPreviewFailed          = &DomainError{Kind: KindPrintPreviewFailed}
	ErrPrintPreviewCancelled       = &DomainError{Kind: KindPrintPreviewCancelled}
	ErrPrinterSettingsInvalid      = &DomainError{Kind: KindPrinterSettingsInvalid}
	ErrNoDataForSession            = &DomainError{Kind: KindNoDataForSession}
	ErrAllocationFailed            = &DomainError{Kind: KindAllocationFailed}
	ErrBitmapConverterDisconnected = &DomainError{Kind: KindBitmapConverterDisconnected}
	ErrInvalidBitmap               = &DomainError{Kind: KindInvalidBitmap}
	ErrFailedToGetPageCount        = &DomainError{Kind: KindFailedToGetPageCount}
	ErrFailedToEncode              = &DomainError{Kind: KindFailedToEncode}
)

// ErrServiceDisconnected is returned by remote service connections whose
// peer has gone away.
var ErrServiceDisconnected = errors.New("service disconnected")

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConversionError(message string, err error) *DomainError {
	return NewError(ErrorTypeConversion, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}
