// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package obsapi validates requests to cmd/plannerd's observability
// surface (pkg/streaming, pkg/analytics, pkg/metrics) against an
// embedded OpenAPI 3 document, and binds the one query parameter those
// handlers share (pretty-printing) the same way a generated client
// would.
package obsapi

import (
	"context"
	"embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	oapiruntime "github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var specFS embed.FS

// Validator routes an incoming request against the embedded document
// and checks it matches the declared path/method/query-parameter
// shape before the real handler ever sees it.
type Validator struct {
	router routers.Router
}

// NewValidator parses and validates the embedded OpenAPI document and
// builds the route index Middleware matches requests against. The
// document is self-contained (no external $refs), so this only fails
// if the embedded spec itself is malformed.
func NewValidator() (*Validator, error) {
	spec, err := specFS.ReadFile("openapi.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded observability openapi document: %w", err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing observability openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validating observability openapi document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("building observability route index: %w", err)
	}
	return &Validator{router: router}, nil
}

// Middleware rejects any request that doesn't match a declared route
// or violates its declared parameter schema (e.g. a non-integer
// model_id) with 404/400, before it reaches the wrapped handler.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Pretty reports whether the request asked for indented JSON via the
// `pretty` query parameter, bound the same way a generated client
// would bind a form-style, non-exploded boolean parameter. Absent or
// unparseable values report false rather than failing the request;
// Middleware has already rejected anything the schema disallows.
func Pretty(r *http.Request) bool {
	var pretty bool
	_ = oapiruntime.BindQueryParameter("form", false, false, "pretty", r.URL.Query(), &pretty)
	return pretty
}
