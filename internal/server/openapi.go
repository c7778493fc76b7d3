package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"path"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// publicPaths are served without credentials even when auth is required.
func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "openapi.json"):   true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
}

var (
	bearerScheme = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	apiKeyScheme = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	anyAuth      = []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	errorResp    = &huma.Response{
		Description: "Error",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
)

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// decorateOpenAPI adds the error envelope as the default response of every
// operation and declares bearer and API key security on non-public routes.
func decorateOpenAPI(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = bearerScheme
	oas.Components.SecuritySchemes["apiKeyAuth"] = apiKeyScheme
	oas.Security = anyAuth

	public := publicPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResp
			if public[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = anyAuth
			}
		}
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var doc []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
}

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Task Reminder API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Send Authorization: Bearer &lt;token&gt; or X-Api-Key. Fired alarms are
      pushed as websocket messages on <code>{{.Stream}}</code>.
    </p>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => SwaggerUIBundle({url: {{.Spec}}, dom_id: '#swagger-ui'});
    </script>
  </body>
</html>`))

func registerDocs(r chi.Router, basePath string) {
	data := struct{ Spec, Stream string }{
		Spec:   path.Join("/", basePath, "openapi.json"),
		Stream: path.Join("/", basePath, "stream"),
	}
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = docsPage.Execute(w, data)
	})
}
