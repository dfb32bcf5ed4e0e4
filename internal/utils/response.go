package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-fulfillment/internal/models"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Items     []string    `json:"items,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err. Domain errors keep their kind and safe message;
// anything else becomes a generic 500 with the fallback text.
func WriteError(w http.ResponseWriter, err error, fallback string) {
	var de *models.Error
	if errors.As(err, &de) {
		resp := ErrorResponse(fallback, de.PublicMessage())
		resp.ErrorKind = string(de.Kind)
		resp.Items = de.Items
		WriteJSON(w, de.HTTPStatus(), resp)
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse(fallback, "internal error"))
}
