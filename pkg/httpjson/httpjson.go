// Package httpjson renders JSON HTTP responses.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// ContentType selects the rendered content type.
type ContentType string

const (
	JSON ContentType = "application/json; charset=utf-8"
)

// Render writes v as JSON with status 200.
func Render(w http.ResponseWriter, v interface{}, ct ContentType) {
	RenderStatus(w, http.StatusOK, v, ct)
}

// RenderStatus writes v as JSON with the given status code.
func RenderStatus(w http.ResponseWriter, statusCode int, v interface{}, ct ContentType) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorf("marshaling JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(ct))
	w.WriteHeader(statusCode)
	if _, err = w.Write(body); err != nil {
		log.Errorf("writing JSON response: %v", err)
	}
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
