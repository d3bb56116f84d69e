package api

import (
	"encoding/json"
	"net/http"

	"github.com/perfectstorm/coordinator/internal/query"
)

// parseQueryParam decodes the `?q=` URL-encoded JSON operator-dialect
// object into a query.Node. A missing or empty q matches everything (nil
// Node). Malformed JSON writes a field-keyed 400 body: {"q": ["<reason>"]}.
func parseQueryParam(w http.ResponseWriter, r *http.Request, refFields query.ReferenceFields, resolve query.Resolver) (query.Node, bool) {
	raw := r.URL.Query().Get("q")
	if raw == "" {
		return nil, true
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		JSON(w, http.StatusBadRequest, map[string][]string{"q": {"malformed JSON: " + err.Error()}})
		return nil, false
	}
	node, err := query.Parse(m, refFields, resolve)
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string][]string{"q": {err.Error()}})
		return nil, false
	}
	return node, true
}
