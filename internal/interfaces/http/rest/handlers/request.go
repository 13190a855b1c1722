// Package handlers maps the troubleshooting operations onto HTTP/JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
	pkgvalidation "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/validation"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return decodeLimit(w, r, v, maxBodyBytes, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return decodeLimit(w, r, v, maxBodyBytes, true)
}

func decodeLimit(w http.ResponseWriter, r *http.Request, v interface{}, limit int64, optional bool) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && optional:
		case errors.Is(err, io.EOF):
			return pkgerrors.NewValidationError("request body is required")
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError("request body is too large")
		default:
			return pkgerrors.NewValidationError("invalid request body: " + err.Error())
		}
	}
	return pkgvalidation.Struct(v)
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.NewValidationError(name + " must be a boolean")
	}
	return v, nil
}

// clientIP strips the port from the remote address left by the RealIP
// middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
