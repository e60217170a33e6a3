package web

import (
	"errors"
	"net/http"

	"imgsearch/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	sentinel error
	status   int
	code     string
}

// Most specific first. The first match decides status, code and message.
var errorMappings = []errorMapping{
	{domain.ErrEmptyText, http.StatusBadRequest, "empty_query"},
	{domain.ErrUnreadableImage, http.StatusBadRequest, "unreadable_image"},
	{domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"},
	{domain.ErrCollectionNotFound, http.StatusNotFound, "collection_not_found"},
	{domain.ErrNotReady, http.StatusServiceUnavailable, "not_ready"},
	{domain.ErrInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrModel, http.StatusBadGateway, "model_error"},
	{domain.ErrStore, http.StatusInternalServerError, "store_error"},
	{domain.ErrConfig, http.StatusInternalServerError, "config_error"},
}

// classify maps a domain error to an HTTP status, a stable code and a
// client-safe message that never exposes internals such as file paths.
func classify(err error) (int, errorResponse) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.status, errorResponse{Code: m.code, Message: m.sentinel.Error()}
		}
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, errorResponse{Code: "upload_too_large", Message: "uploaded image is too large"}
	}
	return http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"}
}
