package jsonrpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotFunction         = errors.New("not a function")
	ErrMustReturnError     = errors.New("function must return error as a last return value")
	ErrMustHaveContext     = errors.New("function must have context.Context as a first argument")
	ErrTooManyReturnValues = errors.New("too many return values")

	ErrInvalidParams    = errors.New("invalid params")
	ErrTooManyArguments = fmt.Errorf("%w: too many arguments", ErrInvalidParams)
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// rpcMethod is a function registered as a JSON RPC method together with its signature
type rpcMethod struct {
	in  []reflect.Type
	out []reflect.Type
	fn  reflect.Value
}

func newRPCMethod(fn interface{}) (rpcMethod, error) {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return rpcMethod{}, ErrNotFunction
	}

	in := make([]reflect.Type, fnType.NumIn())
	for i := range in {
		in[i] = fnType.In(i)
	}
	if len(in) == 0 || in[0] != contextType {
		return rpcMethod{}, ErrMustHaveContext
	}

	out := make([]reflect.Type, fnType.NumOut())
	for i := range out {
		out[i] = fnType.Out(i)
	}
	if len(out) == 0 || !out[len(out)-1].Implements(errorType) {
		return rpcMethod{}, ErrMustReturnError
	}
	// result and error
	if len(out) > 2 {
		return rpcMethod{}, ErrTooManyReturnValues
	}

	return rpcMethod{in: in, out: out, fn: reflect.ValueOf(fn)}, nil
}

func (m rpcMethod) call(ctx context.Context, params []json.RawMessage) (any, error) {
	args, err := decodeParams(m.in[1:], params)
	if err != nil {
		return nil, err
	}
	args = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)

	results := m.fn.Call(args)

	var outError error
	if errValue := results[len(results)-1]; !errValue.IsNil() {
		errVal, ok := errValue.Interface().(error)
		if !ok {
			return nil, ErrMustReturnError
		}
		outError = errVal
	}

	if len(results) == 1 {
		return nil, outError
	}
	return results[0].Interface(), outError
}

// decodeParams decodes positional params into the argument types,
// missing trailing params are passed as zero values
func decodeParams(in []reflect.Type, params []json.RawMessage) ([]reflect.Value, error) {
	if len(params) > len(in) {
		return nil, ErrTooManyArguments
	}

	args := make([]reflect.Value, len(in))
	for i, argType := range in {
		arg := reflect.New(argType)
		if i < len(params) {
			if err := json.Unmarshal(params[i], arg.Interface()); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err.Error())
			}
		}
		args[i] = arg.Elem()
	}
	return args, nil
}
