// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/resmgr/leasecore/internal/log"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Envelope is the wire request body carried by every POST /rpc call.
type Envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Result is the wire response body.
type Result struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a human-readable error message on failure.
type ErrorBody struct {
	Message string `json:"message"`
}

// ServerConfig controls rate limiting.
type ServerConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router exposing POST /rpc, validating every
// request body against the embedded OpenAPI document and rate limiting
// via go-chi/httprate before the dispatcher runs.
func NewRouter(d *Dispatcher, cfg ServerConfig) (http.Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	openapiRouter, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}

	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware())
	r.Use(httprate.Limit(cfg.RateLimitRequests, cfg.RateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Post("/rpc", handleRPC(d, openapiRouter))

	return r, nil
}

func handleRPC(d *Dispatcher, openapiRouter routers.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := openapiRouter.FindRoute(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		bodyBytes, err := readAndRestoreBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		validationInput := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), validationInput); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(bodyBytes, &env); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		result, err := d.Dispatch(r.Context(), env.Method, env.Params)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeResult(w, http.StatusOK, result)
	}
}

func writeResult(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Result{Result: result})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Result{Error: &ErrorBody{Message: err.Error()}})
}

// readAndRestoreBody reads r.Body fully and replaces it with a fresh
// reader over the same bytes, so both the OpenAPI validator and the
// dispatcher's own json.Unmarshal can each read the body once.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
