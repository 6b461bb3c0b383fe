package rpcsvc

import (
	"encoding/json"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// JSON-RPC 2.0 error codes.  The protocol is JSON-RPC 2.0 with documented
// deviations: the "jsonrpc" request field is not enforced, and post-dispatch
// user errors reuse the internal-error code with structured data, which is
// what existing clients parse.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// request is the JSON-RPC request envelope.
type request struct {
	// ID is the client request identifier, echoed back verbatim.
	ID json.RawMessage `json:"id"`

	// Method is the name of the invoked method.
	Method string `json:"method"`

	// Params is the raw parameter object.
	Params json.RawMessage `json:"params"`
}

// resultResponse is the envelope of a successful call.
type resultResponse struct {
	// JSONRPC is always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the identifier of the request being answered.
	ID json.RawMessage `json:"id"`

	// Result is the method result.  It is present even when falsy, so it has
	// no omitempty.
	Result any `json:"result"`
}

// errorResponse is the envelope of a failed call.
type errorResponse struct {
	// JSONRPC is always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the identifier of the request being answered, or null when the
	// request could not be parsed.
	ID json.RawMessage `json:"id"`

	// Error describes the failure.
	Error *rpcError `json:"error"`
}

// rpcError is the error object of a failed call.
type rpcError struct {
	// Data carries structured error details, when any.
	Data any `json:"data,omitempty"`

	// Message is the human-readable error text.
	Message string `json:"message"`

	// Code is the JSON-RPC error code.
	Code int `json:"code"`
}

// Error implements the error interface for *rpcError.
func (err *rpcError) Error() (msg string) {
	return err.Message
}

// User-facing error messages.  The wording is part of the wire contract;
// existing clients match on it.
const (
	msgParseError     = "Parse error"
	msgMethodNotFound = "Method not found"
	msgInvalidParams  = "Invalid method parameter(s)"
	msgNotAuthorized  = "User not authorized"
	msgBatchRunning   = "Batch job still running"
	msgUserExists     = "User already exists"
	msgDenied         = "Call to method is not permitted from this address"
)

// timeLayout is the wire format of timestamps in results and error data.
const timeLayout = "2006-01-02 15:04:05"

// errorToRPC maps a post-dispatch error to its wire form.  User errors keep
// the legacy internal-error code with structured data; anything else is
// reported as an internal error with its message exposed.  isUser is false
// only for the latter kind.
func errorToRPC(err error) (rerr *rpcError, isUser bool) {
	var (
		authErr   *zmb.AuthError
		batchErr  *zmb.BatchOpenError
		existsErr *zmb.UserExistsError
		nfErr     *zmb.NotFoundError
	)

	switch {
	case errors.As(err, &authErr):
		return &rpcError{
			Code:    codeInternalError,
			Message: msgNotAuthorized,
			Data: map[string]any{
				"username": authErr.Username,
			},
		}, true
	case errors.As(err, &batchErr):
		return &rpcError{
			Code:    codeInternalError,
			Message: msgBatchRunning,
			Data: map[string]any{
				"batch_id":      batchErr.BatchID,
				"creation_time": batchErr.CreatedAt.Format(timeLayout),
			},
		}, true
	case errors.As(err, &existsErr):
		return &rpcError{
			Code:    codeInternalError,
			Message: msgUserExists,
			Data: map[string]any{
				"username": existsErr.Username,
			},
		}, true
	case errors.As(err, &nfErr):
		return &rpcError{
			Code:    codeInternalError,
			Message: err.Error(),
		}, true
	default:
		return &rpcError{
			Code:    codeInternalError,
			Message: err.Error(),
		}, false
	}
}
