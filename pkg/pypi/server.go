package pypi

import (
	"bytes"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
)

const (
	// ContentTypeJSON is the PEP 691 JSON media type.
	ContentTypeJSON = "application/vnd.pypi.simple.v1+json"
	// ContentTypeHTML is the PEP 691 HTML media type.
	ContentTypeHTML = "application/vnd.pypi.simple.v1+html"

	contentTypeTextHTML = "text/html; charset=utf-8"
	contentTypeBinary   = "application/octet-stream"

	apiVersion = "1.0"

	serviceName = "benchfill-index"
)

var rootTemplate = template.Must(template.New("root").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="` + apiVersion + `">
    <title>Simple index</title>
  </head>
  <body>
{{- range . }}
    <a href="/{{ . }}/">{{ . }}</a><br/>
{{- end }}
  </body>
</html>
`))

var projectTemplate = template.Must(template.New("project").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="` + apiVersion + `">
    <title>Links for {{ .Name }}</title>
  </head>
  <body>
    <h1>Links for {{ .Name }}</h1>
{{- range .Files }}
    <a href="{{ .Filename }}#sha256={{ .SHA256 }}">{{ .Filename }}</a><br/>
{{- end }}
  </body>
</html>
`))

// ServerOptions configures the HTTP surface of the index.
type ServerOptions struct {
	Logger *slog.Logger
	// Metrics records RED metrics per route when set.
	Metrics *observability.REDMetrics
	// TracerProvider overrides the global provider used by otelgin.
	TracerProvider trace.TracerProvider
}

// Server exposes one Index over the PEP 503 simple repository API.
// It has no write handlers.
type Server struct {
	idx    *Index
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the gin engine serving idx.
func NewServer(idx *Index, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.RedirectFixedPath = false

	var otelOpts []otelgin.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(opts.TracerProvider))
	}

	engine.Use(gin.Recovery(), otelgin.Middleware(serviceName, otelOpts...))

	if opts.Metrics != nil {
		engine.Use(observability.GinMiddleware(opts.Metrics))
	}

	srv := &Server{idx: idx, engine: engine, logger: logger}

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		engine.Handle(method, "/", srv.handleRoot)
		engine.Handle(method, "/:project", srv.handleBareProject)
		engine.Handle(method, "/:project/*file", srv.handleProject)
	}

	engine.NoRoute(func(c *gin.Context) { c.String(http.StatusNotFound, "not found") })
	engine.NoMethod(func(c *gin.Context) { c.String(http.StatusMethodNotAllowed, "method not allowed") })

	return srv
}

// Handler returns the http.Handler serving the index.
func (s *Server) Handler() http.Handler { return s.engine }

// Index returns the served index.
func (s *Server) Index() *Index { return s.idx }

type jsonMeta struct {
	APIVersion string `json:"api-version"`
}

type jsonRootProject struct {
	Name string `json:"name"`
}

type jsonRoot struct {
	Meta     jsonMeta          `json:"meta"`
	Projects []jsonRootProject `json:"projects"`
}

type jsonFile struct {
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Hashes   map[string]string `json:"hashes"`
	Size     int64             `json:"size"`
}

type jsonProject struct {
	Meta  jsonMeta   `json:"meta"`
	Name  string     `json:"name"`
	Files []jsonFile `json:"files"`
}

func (s *Server) handleRoot(c *gin.Context) {
	projects := s.idx.Projects()

	if wantsJSON(c) {
		doc := jsonRoot{Meta: jsonMeta{APIVersion: apiVersion}, Projects: make([]jsonRootProject, 0, len(projects))}
		for _, name := range projects {
			doc.Projects = append(doc.Projects, jsonRootProject{Name: name})
		}

		s.writeJSON(c, doc)

		return
	}

	s.writeTemplate(c, rootTemplate, projects)
}

func (s *Server) handleBareProject(c *gin.Context) {
	c.Redirect(http.StatusMovedPermanently, "/"+NormalizeName(c.Param("project"))+"/")
}

func (s *Server) handleProject(c *gin.Context) {
	raw := c.Param("project")
	project := NormalizeName(raw)
	file := strings.TrimPrefix(c.Param("file"), "/")

	if raw != project {
		c.Redirect(http.StatusMovedPermanently, "/"+project+"/"+file)

		return
	}

	if file == "" {
		s.serveListing(c, project)

		return
	}

	if strings.Contains(file, "/") {
		c.String(http.StatusNotFound, "not found")

		return
	}

	s.serveFile(c, project, file)
}

func (s *Server) serveListing(c *gin.Context, project string) {
	artifacts, ok := s.idx.Artifacts(project)
	if !ok {
		s.logger.DebugContext(c.Request.Context(), "unseeded project requested", "project", project)
		c.String(http.StatusNotFound, "not found")

		return
	}

	if wantsJSON(c) {
		doc := jsonProject{Meta: jsonMeta{APIVersion: apiVersion}, Name: project, Files: make([]jsonFile, 0, len(artifacts))}
		for _, art := range artifacts {
			doc.Files = append(doc.Files, jsonFile{
				Filename: art.Filename,
				URL:      art.Filename,
				Hashes:   map[string]string{"sha256": art.SHA256},
				Size:     art.Size(),
			})
		}

		s.writeJSON(c, doc)

		return
	}

	s.writeTemplate(c, projectTemplate, struct {
		Name  string
		Files []*Artifact
	}{Name: project, Files: artifacts})
}

func (s *Server) serveFile(c *gin.Context, project, filename string) {
	art, ok := s.idx.Lookup(project, filename)
	if !ok {
		c.String(http.StatusNotFound, "not found")

		return
	}

	etag := strconv.Quote(art.SHA256)
	c.Header("ETag", etag)

	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)

		return
	}

	writeBody(c, contentTypeBinary, art.Content)
}

func (s *Server) writeJSON(c *gin.Context, doc any) {
	body, err := json.Marshal(doc)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "encode index page", "err", err)
		c.Status(http.StatusInternalServerError)

		return
	}

	writeBody(c, ContentTypeJSON, body)
}

func (s *Server) writeTemplate(c *gin.Context, tmpl *template.Template, data any) {
	var buf bytes.Buffer

	if err := tmpl.Execute(&buf, data); err != nil {
		s.logger.ErrorContext(c.Request.Context(), "render index page", "err", err)
		c.Status(http.StatusInternalServerError)

		return
	}

	writeBody(c, contentTypeTextHTML, buf.Bytes())
}

// writeBody sends body with an explicit length; HEAD requests get headers only.
func writeBody(c *gin.Context, contentType string, body []byte) {
	c.Header("Content-Length", strconv.Itoa(len(body)))

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", contentType)
		c.Status(http.StatusOK)

		return
	}

	c.Data(http.StatusOK, contentType, body)
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), ContentTypeJSON)
}
