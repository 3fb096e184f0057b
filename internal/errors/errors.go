// Package errors provides the compositor error taxonomy and its gRPC mapping.
// Statuses carry a google.rpc.ErrorInfo detail whose Reason is the Code name.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain for every status produced here.
const Domain = "greenscreen"

// Code classifies an AppError.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeInvalidColorFormat
	CodeInvalidBufferSize
	CodeUnknownCommand
	CodeUnknownConfigKey
	CodeUnavailable
	CodeCancelled
)

var codeNames = map[Code]string{
	CodeUnknown:            "UNKNOWN",
	CodeInternal:           "INTERNAL",
	CodeInvalidArgument:    "INVALID_ARGUMENT",
	CodeInvalidColorFormat: "INVALID_COLOR_FORMAT",
	CodeInvalidBufferSize:  "INVALID_BUFFER_SIZE",
	CodeUnknownCommand:     "UNKNOWN_COMMAND",
	CodeUnknownConfigKey:   "UNKNOWN_CONFIG_KEY",
	CodeUnavailable:        "UNAVAILABLE",
	CodeCancelled:          "CANCELLED",
}

// String returns the wire name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:            codes.Unknown,
	CodeInternal:           codes.Internal,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeInvalidColorFormat: codes.InvalidArgument,
	CodeInvalidBufferSize:  codes.InvalidArgument,
	CodeUnknownCommand:     codes.Unimplemented,
	CodeUnknownConfigKey:   codes.InvalidArgument,
	CodeUnavailable:        codes.Unavailable,
	CodeCancelled:          codes.Canceled,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ToProto converts to an ErrorInfo detail.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// ToStatus converts err into a gRPC status. The first AppError in err's
// chain decides the code and detail; other status errors pass through and
// anything else becomes INTERNAL.
func ToStatus(err error) *status.Status {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.GRPCStatus()
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	return New(CodeInternal, err.Error()).GRPCStatus()
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
