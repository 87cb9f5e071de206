package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	fragcache "github.com/eugener/fragcache/internal"
)

const (
	errTypeInvalid  = "invalid_request_error"
	errTypeNotFound = "not_found_error"
	errTypeBackend  = "backend_error"
	errTypeTimeout  = "timeout_error"
	errTypeInternal = "internal_error"
)

var octetCT = []string{"application/octet-stream"}

// store resolves the {cache} route parameter and the wildcard key.
func (s *server) store(r *http.Request) (EntryStore, string, error) {
	name := chi.URLParam(r, "cache")
	store, ok := s.deps.Caches[name]
	if !ok || store == nil {
		return nil, "", fmt.Errorf("%w: %q", fragcache.ErrUnknownCache, name)
	}

	key := chi.URLParam(r, "*")
	// chi routes on RawPath when it is set, leaving escapes in the param.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			return nil, "", fmt.Errorf("%w: malformed key: %v", fragcache.ErrInvalidArgument, err)
		}
		key = unescaped
	}
	return store, key, nil
}

func (s *server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	store, key, err := s.store(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	val, ok, err := store.Get(r.Context(), key)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("entry not found", errTypeNotFound))
		return
	}

	w.Header()["Content-Type"] = octetCT
	w.WriteHeader(http.StatusOK)
	w.Write(val)
}

func (s *server) handlePutEntry(w http.ResponseWriter, r *http.Request) {
	store, key, err := s.store(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large", errTypeInvalid))
			return
		}
		writeError(r.Context(), w, fmt.Errorf("%w: read body: %v", fragcache.ErrInvalidArgument, err))
		return
	}

	value, opts, err := parsePutBody(body)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	if err := store.Set(r.Context(), key, value, opts); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	store, key, err := s.store(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := store.Remove(r.Context(), key); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parsePutBody reads
//
//	{"value": "<base64>", "absolute_expiration": "<RFC3339>",
//	 "absolute_expiration_relative_to_now": "30s", "sliding_expiration": "10s"}
//
// Only value is required.
func parsePutBody(body []byte) ([]byte, fragcache.EntryOptions, error) {
	var opts fragcache.EntryOptions
	if !gjson.ValidBytes(body) {
		return nil, opts, fmt.Errorf("%w: body is not valid JSON", fragcache.ErrInvalidArgument)
	}

	fields := gjson.GetManyBytes(body,
		"value",
		"absolute_expiration",
		"absolute_expiration_relative_to_now",
		"sliding_expiration",
	)

	if fields[0].Type != gjson.String {
		return nil, opts, fmt.Errorf("%w: value must be a base64 string", fragcache.ErrInvalidArgument)
	}
	value, err := base64.StdEncoding.DecodeString(fields[0].Str)
	if err != nil {
		return nil, opts, fmt.Errorf("%w: value: %v", fragcache.ErrInvalidArgument, err)
	}

	if f := fields[1]; f.Exists() && f.Type != gjson.Null {
		t, err := time.Parse(time.RFC3339, f.String())
		if err != nil {
			return nil, opts, fmt.Errorf("%w: absolute_expiration: %v", fragcache.ErrInvalidArgument, err)
		}
		opts.AbsoluteExpiration = t
	}
	if opts.AbsoluteExpirationRelativeToNow, err = parseDuration(fields[2], "absolute_expiration_relative_to_now"); err != nil {
		return nil, opts, err
	}
	if opts.SlidingExpiration, err = parseDuration(fields[3], "sliding_expiration"); err != nil {
		return nil, opts, err
	}
	return value, opts, nil
}

func parseDuration(f gjson.Result, field string) (time.Duration, error) {
	if !f.Exists() || f.Type == gjson.Null {
		return 0, nil
	}
	d, err := time.ParseDuration(f.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", fragcache.ErrInvalidArgument, field, err)
	}
	return d, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

// errorStatus maps domain errors to HTTP status codes. Anything unrecognised
// is a backend failure.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, fragcache.ErrInvalidArgument):
		return http.StatusBadRequest, errTypeInvalid
	case errors.Is(err, fragcache.ErrUnknownCache):
		return http.StatusNotFound, errTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTypeTimeout
	default:
		return http.StatusBadGateway, errTypeBackend
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, typ := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.LogAttrs(ctx, slog.LevelError, "cache backend error",
			slog.String("error", err.Error()),
			slog.String("request_id", fragcache.RequestIDFromContext(ctx)),
		)
	}
	writeJSON(w, status, errorResponse(err.Error(), typ))
}

// jsonCT is assigned directly to the header map to skip Header.Set's alloc.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
