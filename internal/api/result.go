// Package api is the boundary consumed by board clients. Every operation
// returns a Result; errors are values and never escape as Go errors or
// panics.
package api

import (
	"kpiboard/internal/apperr"
)

// ErrorBody describes a rejected operation.
type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Result is the envelope returned by every Board operation.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail converts err into a failed Result. Internal failures get a generic
// message so storage details do not reach clients.
func Fail(err error) Result {
	kind := apperr.KindOf(err)
	msg := "internal error"
	if kind != apperr.KindInternal {
		msg = err.Error()
	}
	return Result{Error: &ErrorBody{Kind: kind, Message: msg}}
}

func from(data any, err error) Result {
	if err != nil {
		return Fail(err)
	}
	return OK(data)
}
