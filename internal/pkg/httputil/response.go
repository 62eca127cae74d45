package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// errorBody is the envelope every API error is wrapped in.
type errorBody struct {
	Error string `json:"error"`
}

// JSON writes data as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Encode response: %v", err)
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, data) }

// Created writes a 201 response.
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }

// Accepted writes a 202 response for work handed off to the job queue.
func Accepted(w http.ResponseWriter, data any) { JSON(w, http.StatusAccepted, data) }

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) { fail(w, http.StatusBadRequest, message) }

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) { fail(w, http.StatusNotFound, message) }

// Conflict writes a 409 error for a lifecycle transition the current state
// does not allow.
func Conflict(w http.ResponseWriter, message string) { fail(w, http.StatusConflict, message) }

// Unprocessable writes a 422 error for a request that parses but cannot be
// acted on.
func Unprocessable(w http.ResponseWriter, message string) {
	fail(w, http.StatusUnprocessableEntity, message)
}

// InternalError writes a 500 error. The underlying error is logged, never
// sent to the client.
func InternalError(w http.ResponseWriter, err error) {
	log.Printf("[API] Internal error: %v", err)
	fail(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads the JSON request body into dst, answering 400 on a parse
// failure. A false return means the handler should stop.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}
