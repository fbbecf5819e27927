package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/cuenca/internal/domain"
)

//go:embed openapi.yaml
var openAPISource []byte

var loadOpenAPI = sync.OnceValues(func() ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(openAPISource, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}
	if err := syncParameters(doc); err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
})

// syncParameters fills the shared path and query parameters from the index
// registry and the default series range, so the document cannot drift from
// what the handlers accept.
func syncParameters(doc map[string]any) error {
	params, err := lookup(doc, "components", "parameters")
	if err != nil {
		return err
	}

	indices := domain.AllIndices()
	enum := make([]any, len(indices))
	for i, n := range indices {
		enum[i] = string(n)
	}

	for name, patch := range map[string]map[string]any{
		"Index": {"enum": enum},
		"Start": {"default": domain.DefaultStartYear},
		"End":   {"default": domain.DefaultEndYear},
	} {
		schema, err := lookup(params, name, "schema")
		if err != nil {
			return err
		}
		for k, v := range patch {
			schema[k] = v
		}
	}
	return nil
}

func lookup(node map[string]any, keys ...string) (map[string]any, error) {
	for _, k := range keys {
		next, ok := node[k].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("openapi.yaml: missing object %q", k)
		}
		node = next
	}
	return node, nil
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="es">
<head>
  <meta charset="UTF-8">
  <title>cuenca API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({ url: "/api/v1/openapi.json", dom_id: "#swagger-ui" });
  </script>
</body>
</html>
`

// handleSwaggerUI serves the interactive API documentation.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}
