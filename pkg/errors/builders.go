// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"strconv"
)

// WrapError converts a generic error into a RuntimeError of kind
// KindInternal, unless it already is one (in which case it is returned
// unchanged).
func WrapError(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	var rt *RuntimeError
	if stderrors.As(err, &rt) {
		return rt
	}
	return Wrap(KindInternal, err.Error(), err)
}

// IsKind reports whether err is a RuntimeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var rt *RuntimeError
	if !stderrors.As(err, &rt) {
		return false
	}
	return rt.Kind == kind
}

// NewConfigParseError builds a KindConfigParse error.
func NewConfigParseError(message string, cause error) *RuntimeError {
	return Wrap(KindConfigParse, message, cause)
}

// NewRegisterFailure builds a KindRegisterFailure error for a model that
// produced no valid subgraph on any worker.
func NewRegisterFailure(modelID int, message string) *RuntimeError {
	return New(KindRegisterFailure, message).WithDetails(
		"model_id=" + strconv.Itoa(modelID))
}

// NewNoViableWorker builds a KindNoViableWorker error.
func NewNoViableWorker(modelID int) *RuntimeError {
	return New(KindNoViableWorker, "no worker can execute this subgraph").
		WithDetails("model_id=" + strconv.Itoa(modelID))
}
