package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const maxRequestBodySize = 10 << 20

// ParseJSON decodes the request body into dest, capped at 10MB.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
