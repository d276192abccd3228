// Package apierr defines the error taxonomy shared by the schema registry, query parser,
// resolver and mutation handler. Every error knows its kind, and the kind alone decides the
// HTTP status it is rendered with.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a core error
type Kind int

const (
	// KindInternal is an unexpected failure (persistence outage, encoding failure)
	KindInternal Kind = iota
	KindUnknownType
	KindUnknownField
	KindInvalidIncludePath
	KindUnsupportedFilter
	KindInvalidParameter
	KindInvalidDocument
	KindNotFound
	KindTypeMismatch
	KindIDMismatch
	KindClientGeneratedIDNotSupported
	KindConflict
	KindValidationFailed
	KindUnsupportedMediaType
	KindNotAcceptable
	KindMethodNotAllowed
	KindTooManyRequests
)

// String returns the machine readable code of the kind
func (k Kind) String() string {
	switch k {
	case KindUnknownType:
		return "unknown_type"
	case KindUnknownField:
		return "unknown_field"
	case KindInvalidIncludePath:
		return "invalid_include_path"
	case KindUnsupportedFilter:
		return "unsupported_filter"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindInvalidDocument:
		return "invalid_document"
	case KindNotFound:
		return "not_found"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindIDMismatch:
		return "id_mismatch"
	case KindClientGeneratedIDNotSupported:
		return "client_generated_id_not_supported"
	case KindConflict:
		return "conflict"
	case KindValidationFailed:
		return "validation_failed"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindNotAcceptable:
		return "not_acceptable"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}

// Status maps an error kind to its HTTP status code
func Status(k Kind) int {
	switch k {
	case KindUnknownType, KindUnknownField, KindInvalidIncludePath,
		KindUnsupportedFilter, KindInvalidParameter, KindInvalidDocument:
		return http.StatusBadRequest
	case KindClientGeneratedIDNotSupported:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotAcceptable:
		return http.StatusNotAcceptable
	case KindTypeMismatch, KindIDMismatch, KindConflict:
		return http.StatusConflict
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// title returns the default human readable title of a kind
func (k Kind) title() string {
	switch k {
	case KindUnknownType:
		return "Unknown resource type"
	case KindUnknownField:
		return "Unknown field"
	case KindInvalidIncludePath:
		return "Invalid include path"
	case KindUnsupportedFilter:
		return "Unsupported filter"
	case KindInvalidParameter:
		return "Invalid query parameter"
	case KindInvalidDocument:
		return "Invalid document"
	case KindNotFound:
		return "Resource not found"
	case KindTypeMismatch:
		return "Type mismatch"
	case KindIDMismatch:
		return "Id mismatch"
	case KindClientGeneratedIDNotSupported:
		return "Client-generated id not supported"
	case KindConflict:
		return "Conflict"
	case KindValidationFailed:
		return "Validation failed"
	case KindUnsupportedMediaType:
		return "Unsupported media type"
	case KindNotAcceptable:
		return "Not acceptable"
	case KindMethodNotAllowed:
		return "Method not allowed"
	case KindTooManyRequests:
		return "Too many requests"
	default:
		return "Internal server error"
	}
}

// Error is a single core error. Pointer is a JSON Pointer into the request document,
// Parameter names the offending query parameter. At most one of them is set.
type Error struct {
	Kind      Kind
	Title     string
	Detail    string
	Pointer   string
	Parameter string

	cause error
}

// New creates an error of the given kind with a formatted detail
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   kind,
		Title:  kind.title(),
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Detail
}

// Unwrap returns the error wrapped by Internal, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status of the error
func (e *Error) Status() int {
	return Status(e.Kind)
}

// AtPointer sets the source pointer and returns the error
func (e *Error) AtPointer(pointer string) *Error {
	e.Pointer = pointer
	return e
}

// AtParameter sets the source parameter and returns the error
func (e *Error) AtParameter(param string) *Error {
	e.Parameter = param
	return e
}

// List collects independent errors so a client can fix them in one round trip
type List []*Error

// Add appends errors to the list
func (l *List) Add(errs ...*Error) {
	*l = append(*l, errs...)
}

// Merge appends every entry of err, which may be a *Error or a List
func (l *List) Merge(err error) {
	if err == nil {
		return
	}
	var list List
	if errors.As(err, &list) {
		*l = append(*l, list...)
		return
	}
	var single *Error
	if errors.As(err, &single) {
		*l = append(*l, single)
		return
	}
	*l = append(*l, Internal(err))
}

// Len returns the number of collected errors
func (l List) Len() int {
	return len(l)
}

// Err returns nil for an empty list and the list itself otherwise
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Error implements the error interface
func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d errors: %s", len(l), strings.Join(msgs, "; "))
}

// Status returns the status shared by all entries. Mixed client errors collapse to 400,
// any server error wins.
func (l List) Status() int {
	if len(l) == 0 {
		return http.StatusInternalServerError
	}
	status := l[0].Status()
	for _, e := range l[1:] {
		s := e.Status()
		if s >= 500 || status >= 500 {
			return http.StatusInternalServerError
		}
		if s != status {
			status = http.StatusBadRequest
		}
	}
	return status
}

// Internal wraps an unexpected error. The wrapped text is kept out of Detail so that
// persistence errors never reach a client.
func Internal(err error) *Error {
	return &Error{
		Kind:   KindInternal,
		Title:  KindInternal.title(),
		Detail: "An unexpected error occurred",
		cause:  err,
	}
}

// From converts any error into a List, wrapping unknown errors as internal
func From(err error) List {
	var list List
	list.Merge(err)
	return list
}

// StatusOf returns the HTTP status for any error
func StatusOf(err error) int {
	return From(err).Status()
}

// IsKind reports whether err is, or contains only, errors of the given kind
func IsKind(err error, kind Kind) bool {
	list := From(err)
	if len(list) == 0 {
		return false
	}
	for _, e := range list {
		if e.Kind != kind {
			return false
		}
	}
	return true
}

// HasKind reports whether err contains at least one error of the given kind
func HasKind(err error, kind Kind) bool {
	for _, e := range From(err) {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Constructors for the taxonomy

// UnknownType reports a resource type that is not registered
func UnknownType(name string) *Error {
	return New(KindUnknownType, "resource type %q is not registered", name)
}

// UnknownField reports a field that is not declared on a type
func UnknownField(typeName, field string) *Error {
	return New(KindUnknownField, "%q is not a field of %q", field, typeName)
}

// InvalidIncludePath reports an include path that does not resolve through relationships
func InvalidIncludePath(path, reason string) *Error {
	return New(KindInvalidIncludePath, "include path %q is invalid: %s", path, reason).AtParameter("include")
}

// UnsupportedFilter reports a filter operator outside of the supported set
func UnsupportedFilter(field, op string) *Error {
	return New(KindUnsupportedFilter, "filter operator %q is not supported for %q", op, field)
}

// InvalidParameter reports a malformed query parameter
func InvalidParameter(param, format string, args ...interface{}) *Error {
	return New(KindInvalidParameter, format, args...).AtParameter(param)
}

// InvalidDocument reports a malformed request document
func InvalidDocument(pointer, format string, args ...interface{}) *Error {
	return New(KindInvalidDocument, format, args...).AtPointer(pointer)
}

// NotFound reports a missing resource
func NotFound(typeName, id string) *Error {
	return New(KindNotFound, "%s with id %q does not exist", typeName, id)
}

// TypeMismatch reports a document type that does not match the endpoint
func TypeMismatch(pointer, expected, got string) *Error {
	return New(KindTypeMismatch, "expected type %q but got %q", expected, got).AtPointer(pointer)
}

// IDMismatch reports a document id that does not match the URL
func IDMismatch(urlID, docID string) *Error {
	return New(KindIDMismatch, "document id %q does not match URL id %q", docID, urlID).AtPointer("/data/id")
}

// ClientGeneratedIDNotSupported reports a create request carrying an id
func ClientGeneratedIDNotSupported(typeName string) *Error {
	return New(KindClientGeneratedIDNotSupported, "client-generated ids are not supported for %q", typeName).AtPointer("/data/id")
}

// ValidationFailed reports a field-level validation failure
func ValidationFailed(pointer, detail string) *Error {
	return New(KindValidationFailed, "%s", detail).AtPointer(pointer)
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Pointer builds a JSON Pointer from reference tokens, escaping "~" and "/"
func Pointer(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(tok))
	}
	return b.String()
}
