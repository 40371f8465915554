package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetworks/director"
)

// ErrorResponse maps an error to a status code and writes the coded
// form. Anything that isn't a *director.Error gets the cover-all
// internal error so the wire format stays uniform.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var derr *director.Error
	if !errors.As(apiError, &derr) {
		derr = director.CoverAllError(apiError)
	}

	var code int
	switch derr.Type {
	case director.Missing:
		code = http.StatusNotFound
	case director.User:
		code = http.StatusBadRequest
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, derr)
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	var derr *director.Error
	if errors.As(err, &derr) {
		json.NewEncoder(w).Encode(derr)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(body)
}

func MakeAPINotFound(path string) *director.Error {
	return &director.Error{
		Type: director.Missing,
		Code: director.CodeInternal,
		Err:  errors.New("API endpoint not found"),
		Help: `The API endpoint requested is not supported by this director.

This usually indicates a client older or newer than the server. The
path requested was:

    ` + path + `
`,
	}
}
