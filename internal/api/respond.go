package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"

	"procodus.dev/hotbox/internal/storage"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the storage error taxonomy onto HTTP status codes. Storage
// failures are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		var fe *storage.FieldError
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fe.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrBoxNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Box not found"})
	case errors.Is(err, storage.ErrSensorNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Sensor not found"})
	case errors.Is(err, storage.ErrMeasurementNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Measurement not found"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Conflict"})
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return storage.Invalid("body", "is required")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return storage.Invalid(typeErr.Field, "must be a JSON "+jsonType(typeErr.Type.Kind()))
		}
		return storage.Invalid("body", "must be a JSON object")
	}
	return nil
}

func jsonType(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}
