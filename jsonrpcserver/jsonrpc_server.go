// Package jsonrpcserver allows exposing functions like:
// func Foo(context, int) (int, error)
// as a JSON RPC methods
//
// Requests may carry the `x-detector-id` header that identifies the detector sending opportunities,
// it's available to the methods with GetDetector.
package jsonrpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

var (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeCustomError    = -32000
)

const (
	maxDetectorIDLength = 255
	maxRequestBodySize  = 1 << 20

	DetectorHeader = "x-detector-id"
)

type (
	detectorKey   struct{}
	receivedAtKey struct{}
)

// CodedError can be returned by methods to set the JSON RPC error code
type CodedError interface {
	error
	ErrorCode() int
}

type JSONRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *any   `json:"data,omitempty"`
}

type Handler struct {
	methods map[string]rpcMethod
}

type Methods map[string]interface{}

// NewHandler creates JSONRPC http.Handler from the map that maps method names to method functions
// each method function must:
// - have context as a first argument
// - return error as a last argument
// - have argument types that can be unmarshalled from JSON
// - have return types that can be marshalled to JSON
func NewHandler(methods Methods) (*Handler, error) {
	m := make(map[string]rpcMethod)
	for name, fn := range methods {
		method, err := newRPCMethod(fn)
		if err != nil {
			return nil, err
		}
		m[name] = method
	}
	return &Handler{
		methods: m,
	}, nil
}

func writeJSONRPCError(w http.ResponseWriter, id any, code int, msg string) {
	res := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  nil,
		Error: &JSONRPCError{
			Code:    code,
			Message: msg,
			Data:    nil,
		},
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func errorCode(err error) int {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	if errors.Is(err, ErrInvalidParams) {
		return CodeInvalidParams
	}
	return CodeCustomError
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeJSONRPCError(w, nil, CodeInvalidRequest, "only POST requests are accepted")
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, CodeParseError, err.Error())
		return
	}

	if req.JSONRPC != "2.0" {
		writeJSONRPCError(w, req.ID, CodeParseError, "invalid jsonrpc version")
		return
	}
	if req.ID != nil {
		// id must be string or number
		switch req.ID.(type) {
		case string, float64:
		default:
			writeJSONRPCError(w, nil, CodeInvalidRequest, "invalid id type")
			return
		}
	}

	ctx := context.WithValue(r.Context(), receivedAtKey{}, time.Now())
	if detector := r.Header.Get(DetectorHeader); detector != "" {
		if len(detector) > maxDetectorIDLength {
			writeJSONRPCError(w, req.ID, CodeInvalidRequest, DetectorHeader+" header is too long")
			return
		}
		ctx = context.WithValue(ctx, detectorKey{}, detector)
	}

	method, ok := h.methods[req.Method]
	if !ok {
		writeJSONRPCError(w, req.ID, CodeMethodNotFound, "method not found")
		return
	}

	result, err := method.call(ctx, req.Params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	marshaledResult, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, req.ID, CodeInternalError, err.Error())
		return
	}

	rawMessageResult := json.RawMessage(marshaledResult)
	res := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  &rawMessageResult,
		Error:   nil,
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// GetDetector returns the detector id of the request, empty if the header was not set
func GetDetector(ctx context.Context) string {
	value, ok := ctx.Value(detectorKey{}).(string)
	if !ok {
		return ""
	}
	return value
}

// GetReceivedAt returns the time the request was received, zero outside of a request
func GetReceivedAt(ctx context.Context) time.Time {
	value, ok := ctx.Value(receivedAtKey{}).(time.Time)
	if !ok {
		return time.Time{}
	}
	return value
}
