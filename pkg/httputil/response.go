package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorResponse is the body of every error response. Details maps a field
// path such as items[0].quantity to what is wrong with it.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON encodes data as the response body
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	_ = WriteJSON(w, status, body)
}

// WriteDetailedError reports per-field problems, e.g. a rejected invoice draft
func WriteDetailedError(w http.ResponseWriter, status int, message string, details map[string]string) {
	writeError(w, status, ErrorResponse{Error: message, Details: details})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrorResponse{Error: message})
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrorResponse{Error: message})
}

// WriteForbidden is also used for plan limits: quota exhausted or a
// pro-only feature.
func WriteForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrorResponse{Error: message})
}

func WriteNotFoundError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrorResponse{Error: message})
}

func WriteConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrorResponse{Error: message})
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	writeError(w, http.StatusTooManyRequests, ErrorResponse{Error: message})
}

// WriteInternalError takes a fixed message so that driver errors never
// reach the client. Log the cause before calling it.
func WriteInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrorResponse{Error: message})
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: message})
}

// WriteSuccess writes data with 200 OK
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes data with 201 Created
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WritePDF sends a rendered document as a download
func WritePDF(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
