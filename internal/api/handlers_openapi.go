package api

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"rentgate/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed openapi/openapi.yaml
var openAPISpec []byte

const openAPICacheControl = "public, max-age=3600"

// openAPIETag identifies the embedded document; it changes only with a rebuild.
var openAPIETag = func() string {
	sum := sha256.Sum256(openAPISpec)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

var (
	openAPIJSONOnce sync.Once
	openAPIJSON     []byte
	openAPIJSONErr  error
)

// openAPIAsJSON converts the embedded YAML document once.
func openAPIAsJSON() ([]byte, error) {
	openAPIJSONOnce.Do(func() {
		var doc map[string]any
		if err := yaml.Unmarshal(openAPISpec, &doc); err != nil {
			openAPIJSONErr = fmt.Errorf("parse openapi document: %w", err)
			return
		}
		openAPIJSON, openAPIJSONErr = json.Marshal(stringKeys(doc))
	})
	return openAPIJSON, openAPIJSONErr
}

// stringKeys rewrites YAML mappings with non-string keys (unquoted status
// codes, for instance) so encoding/json accepts them.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

// notModified answers conditional requests for the document.
func notModified(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", openAPICacheControl)
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// ServeOpenAPISpec serves the admin API description (OpenAPI 3.0.3, YAML).
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if notModified(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

// ServeOpenAPIJSON serves the same document as JSON for tooling that does not
// read YAML.
func (h *Handlers) ServeOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	data, err := openAPIAsJSON()
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "OpenAPI document unavailable")
		return
	}
	if notModified(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>rentgate admin API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.ui = SwaggerUIBundle({
  url: '/admin/v1/openapi.yaml',
  dom_id: '#swagger-ui',
  deepLinking: true,
  persistAuthorization: true,
  displayRequestDuration: true
});
</script>
</body>
</html>`

// ServeSwaggerUI serves a Swagger UI page for the admin API.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", openAPICacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(swaggerUIPage))
}
