package errs

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies a kind of failure. Codes are stable strings and appear in
// API responses and history records.
type Code string

const (
	InvalidType                Code = "InvalidType"
	EmptyFile                  Code = "EmptyFile"
	TooLarge                   Code = "TooLarge"
	NameTooLong                Code = "NameTooLong"
	SuspiciousName             Code = "SuspiciousName"
	CorruptOrInvalidDimensions Code = "CorruptOrInvalidDimensions"
	UnsupportedFormat          Code = "UnsupportedFormat"
	InvalidQuality             Code = "InvalidQuality"
	InvalidDimensions          Code = "InvalidDimensions"
	DecodeFailed               Code = "DecodeFailed"
	EncodeFailed               Code = "EncodeFailed"
	Timeout                    Code = "Timeout"
	Transient                  Code = "Transient"
	ArchiveUnreadable          Code = "ArchiveUnreadable"
	BatchFull                  Code = "BatchFull"
	NotFound                   Code = "NotFound"
	NotReady                   Code = "NotReady"
	Canceled                   Code = "Canceled"
	Unknown                    Code = "Unknown"
)

var (
	// ErrInvalidType is returned when a declared type is not an accepted image type
	ErrInvalidType = errors.New("invalid file type")
	// ErrEmptyFile is returned for zero-byte inputs
	ErrEmptyFile = errors.New("file is empty")
	// ErrTooLarge is returned when a file exceeds the size ceiling
	ErrTooLarge = errors.New("file too large")
	// ErrNameTooLong is returned when a file name exceeds the length limit
	ErrNameTooLong = errors.New("file name too long")
	// ErrSuspiciousName is returned when a file name contains a blocked substring
	ErrSuspiciousName = errors.New("suspicious file name")
	// ErrCorrupt is returned when an image cannot be read or has out-of-range dimensions
	ErrCorrupt = errors.New("corrupt image or invalid dimensions")
	// ErrUnsupportedFormat is returned when a target format cannot be resolved
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrInvalidQuality is returned when quality is outside [0, 1]
	ErrInvalidQuality = errors.New("invalid quality")
	// ErrInvalidDimensions is returned for negative size limits
	ErrInvalidDimensions = errors.New("invalid dimension limit")
	// ErrDecodeFailed is returned when source bytes cannot be decoded
	ErrDecodeFailed = errors.New("decode failed")
	// ErrEncodeFailed is returned when the encoder fails or produces nothing
	ErrEncodeFailed = errors.New("encode failed")
	// ErrTimeout is returned when a conversion exceeds its time budget
	ErrTimeout = errors.New("conversion timed out")
	// ErrTransient marks failures worth retrying
	ErrTransient = errors.New("transient failure")
	// ErrArchiveUnreadable is returned for bundles that cannot be opened
	ErrArchiveUnreadable = errors.New("archive unreadable")
	// ErrBatchFull is returned when adding would exceed the batch limit
	ErrBatchFull = errors.New("batch is full")
	// ErrNotFound is returned for unknown item ids or handles
	ErrNotFound = errors.New("not found")
	// ErrNotReady is returned when an item has no converted output yet
	ErrNotReady = errors.New("item not converted")
	// ErrCanceled is returned when work was dropped before it finished
	ErrCanceled = errors.New("canceled")
)

var sentinels = map[Code]error{
	InvalidType:                ErrInvalidType,
	EmptyFile:                  ErrEmptyFile,
	TooLarge:                   ErrTooLarge,
	NameTooLong:                ErrNameTooLong,
	SuspiciousName:             ErrSuspiciousName,
	CorruptOrInvalidDimensions: ErrCorrupt,
	UnsupportedFormat:          ErrUnsupportedFormat,
	InvalidQuality:             ErrInvalidQuality,
	InvalidDimensions:          ErrInvalidDimensions,
	DecodeFailed:               ErrDecodeFailed,
	EncodeFailed:               ErrEncodeFailed,
	Timeout:                    ErrTimeout,
	Transient:                  ErrTransient,
	ArchiveUnreadable:          ErrArchiveUnreadable,
	BatchFull:                  ErrBatchFull,
	NotFound:                   ErrNotFound,
	NotReady:                   ErrNotReady,
	Canceled:                   ErrCanceled,
}

// Error carries a Code, the operation that failed and the underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// New builds an *Error. cause may be nil.
func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Newf builds an *Error whose cause is a formatted message.
func Newf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if s, ok := sentinels[e.Code]; ok {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the code's sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Code]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// CodeOf extracts the Code from err. Context errors map to Timeout and
// Canceled, anything unrecognised maps to Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Canceled
	}
	return Unknown
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case Timeout, Transient:
		return true
	}
	return false
}

// Message returns a short user-facing reason for a code.
func Message(code Code) string {
	switch code {
	case InvalidType:
		return "Please select a valid image file (JPG, PNG, WEBP, etc.)"
	case EmptyFile:
		return "The file is empty."
	case TooLarge:
		return "Image file is too large."
	case NameTooLong:
		return "The file name is too long."
	case SuspiciousName:
		return "The file name looks like an executable and was rejected."
	case CorruptOrInvalidDimensions:
		return "The image is corrupt or its dimensions are out of range."
	case UnsupportedFormat:
		return "That output format is not supported."
	case InvalidQuality:
		return "Quality must be between 0 and 100."
	case InvalidDimensions:
		return "Maximum width and height cannot be negative."
	case DecodeFailed:
		return "Failed to read the image. Please try a different file."
	case EncodeFailed:
		return "Failed to process image. Please try again with a different image."
	case Timeout:
		return "Image processing timed out. Please try with a smaller image."
	case ArchiveUnreadable:
		return "The archive could not be opened."
	case BatchFull:
		return "The batch is full. Remove some files first."
	case NotFound:
		return "The item no longer exists."
	case NotReady:
		return "The item has not been converted yet."
	case Canceled:
		return "Processing was canceled."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// Reason returns the user-facing reason for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return Message(CodeOf(err))
}
