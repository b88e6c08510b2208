// Package xerrors provides the structured error taxonomy shared by the
// object store and the IPC core: a kind, a code, contextual fields, and
// retryability, in the style the rest of the module expects from every
// boundary that touches disk or the wire.
package xerrors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind groups error Codes into the four families the store and IPC core
// distinguish.
type Kind string

const (
	KindStorage Kind = "storage"
	KindFile    Kind = "file"
	KindIPC     Kind = "ipc"
	KindCache   Kind = "cache"
)

// Code is a specific error condition within a Kind.
type Code string

const (
	// Storage
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadyExists          Code = "ALREADY_EXISTS"
	CodeConcurrentTransaction  Code = "CONCURRENT_TRANSACTION"
	CodeObjFileParsing         Code = "OBJ_FILE_PARSING"
	CodeInvalidObjectID        Code = "INVALID_OBJECT_ID"

	// File (adds to the storage set above where shared)
	CodeNotDirectory Code = "NOT_DIRECTORY"
	CodeNotFile      Code = "NOT_FILE"
	CodeIsDirectory  Code = "IS_DIRECTORY"
	CodeEndOfFile    Code = "END_OF_FILE"
	CodeParsingError Code = "PARSING_ERROR"
	CodeNotEmpty     Code = "NOT_EMPTY"

	// IPC
	CodeDuplicateFnCallNum Code = "DUPLICATE_FN_CALL_NUM"
	CodeObjectNotFound     Code = "OBJECT_NOT_FOUND"
	CodeCallFnNotFound     Code = "CALL_FN_NOT_FOUND"
	CodeInvalidCallNum     Code = "INVALID_CALL_NUM"
	CodeInvalidPath        Code = "INVALID_PATH"
	CodeInvalidType        Code = "INVALID_TYPE"
	CodeInvalidReference   Code = "INVALID_REFERENCE"
	CodeMissingBodyBytes   Code = "MISSING_BODY_BYTES"
	CodeBadReply           Code = "BAD_REPLY"
	CodeStopFromOtherSide  Code = "STOP_FROM_OTHER_SIDE"
	CodeConnectorStop      Code = "CONNECTOR_STOP"
	CodeIPCNotConnected    Code = "IPC_NOT_CONNECTED"
	CodeInvalidNumInBody   Code = "INVALID_NUM_IN_BODY"
)

// Error is the structured error type every package in this module returns
// across a component boundary.
type Error struct {
	Kind      Kind              `json:"kind"`
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Path      string            `json:"path,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s/%s: %s (path=%s)", e.Kind, e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// JSON renders the error as a JSON string for logging.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// FromJSON parses the JSON form JSON produces, for reconstructing an Error
// carried across a process boundary (e.g. the body of an IPC `error`
// envelope, spec §4.H).
func FromJSON(data []byte) (*Error, error) {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// New builds an Error with default retryability for the given code.
func New(kind Kind, code Code, message string) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable(code),
	}
}

// WithPath attaches a path, masking everything up to and including rootLen
// bytes of it so absolute device paths never leak through error messages
// (spec §7: "path-length-masked variant").
func (e *Error) WithPath(path string, rootLen int) *Error {
	e.Path = maskPath(path, rootLen)
	return e
}

// WithContext attaches a free-form context key/value.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause sets the wrapped cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func maskPath(path string, rootLen int) string {
	if rootLen <= 0 || rootLen >= len(path) {
		return path
	}
	return strings.Repeat("*", rootLen) + path[rootLen:]
}

func defaultRetryable(code Code) bool {
	switch code {
	case CodeConcurrentTransaction, CodeStopFromOtherSide, CodeConnectorStop, CodeIPCNotConnected:
		return true
	default:
		return false
	}
}

// Convenience constructors, one per spec §7 condition.

func NotFound(kind Kind, path string) *Error {
	return New(kind, CodeNotFound, "not found").WithContext("path", path)
}

func AlreadyExists(kind Kind, path string) *Error {
	return New(kind, CodeAlreadyExists, "already exists").WithContext("path", path)
}

func ConcurrentTransaction(kind Kind, detail string) *Error {
	return New(kind, CodeConcurrentTransaction, detail)
}

func ObjFileParsing(path string, detail string) *Error {
	return New(KindStorage, CodeObjFileParsing, detail).WithContext("path", path)
}

func NotDirectory(path string) *Error { return New(KindFile, CodeNotDirectory, "not a directory").WithContext("path", path) }
func NotFile(path string) *Error      { return New(KindFile, CodeNotFile, "not a file").WithContext("path", path) }
func IsDirectory(path string) *Error  { return New(KindFile, CodeIsDirectory, "is a directory").WithContext("path", path) }
func EndOfFile() *Error               { return New(KindFile, CodeEndOfFile, "end of file") }
func ParsingError(detail string) *Error { return New(KindFile, CodeParsingError, detail) }
func NotEmpty(path string) *Error     { return New(KindFile, CodeNotEmpty, "directory not empty").WithContext("path", path) }

func DuplicateFnCallNum(num uint64) *Error {
	return New(KindIPC, CodeDuplicateFnCallNum, "duplicate fn_call_num").WithContext("fn_call_num", fmt.Sprintf("%d", num))
}
func ObjectNotFound(ref string) *Error {
	return New(KindIPC, CodeObjectNotFound, "object not found").WithContext("ref", ref)
}
func CallFnNotFound(path []string) *Error {
	return New(KindIPC, CodeCallFnNotFound, "call function not found").WithContext("path", strings.Join(path, "/"))
}
func InvalidCallNum() *Error       { return New(KindIPC, CodeInvalidCallNum, "invalid or missing fn_call_num") }
func InvalidPath(path []string) *Error {
	return New(KindIPC, CodeInvalidPath, "invalid path").WithContext("path", strings.Join(path, "/"))
}
func InvalidType(msgType string) *Error {
	return New(KindIPC, CodeInvalidType, "invalid message type").WithContext("msg_type", msgType)
}
func InvalidReference() *Error     { return New(KindIPC, CodeInvalidReference, "invalid reference") }
func MissingBodyBytes() *Error     { return New(KindIPC, CodeMissingBodyBytes, "missing body bytes") }
func BadReply(detail string) *Error { return New(KindIPC, CodeBadReply, detail) }
func StopFromOtherSide() *Error    { return New(KindIPC, CodeStopFromOtherSide, "connector stopped from other side") }
func ConnectorStop() *Error        { return New(KindIPC, CodeConnectorStop, "connector stopped") }
func IPCNotConnected() *Error      { return New(KindIPC, CodeIPCNotConnected, "ipc not connected") }
func InvalidNumInBody(detail string) *Error {
	return New(KindIPC, CodeInvalidNumInBody, detail)
}

func CacheNotFound(key string) *Error {
	return New(KindCache, CodeNotFound, "not found").WithContext("key", key)
}
func CacheAlreadyExist(key string) *Error {
	return New(KindCache, CodeAlreadyExists, "already exists").WithContext("key", key)
}
func CacheConcurrentTransaction(key string) *Error {
	return New(KindCache, CodeConcurrentTransaction, "concurrent transaction").WithContext("key", key)
}
