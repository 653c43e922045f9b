package jsonrpc

import "errors"

// Error code map, exactly as the wire protocol defines it. Only codes the
// transport itself produces live here; handler-originated errors are the
// handler's own business.
const (
	ErrCodeParseError          = -32700
	ErrCodeInvalidRequest      = -32600
	ErrCodeTransportOrSession  = -32000
	ErrCodeRequestTimedOut     = -32001
	ErrCodeForbiddenScope      = -32002
)

var (
	ErrBatchNotSupported = errors.New("batch requests are not supported")
	ErrNotAValidMessage  = errors.New("not a valid JSON-RPC message")
)
