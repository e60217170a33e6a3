package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imgsearch/internal/domain"
	logpkg "imgsearch/internal/logger"
	"imgsearch/internal/metrics"
	"imgsearch/internal/usecase"
)

const maxTopN = 100

//go:embed templates/*.html
var templateFS embed.FS

// Searcher is the retrieval surface the web UI needs.
type Searcher interface {
	TextToImages(ctx context.Context, text string, topN int) ([]domain.Hit, error)
	ImageBytesToImages(ctx context.Context, data []byte, topN int) ([]domain.Hit, error)
	Document(ctx context.Context, id string) (domain.Document, error)
	Info(ctx context.Context) (usecase.Info, error)
	HealthCheck(ctx context.Context) error
}

// Options configures the web server.
type Options struct {
	MaxUploadBytes int64
	DefaultTopN    int
}

// Server serves the search UI and its JSON API.
type Server struct {
	search Searcher
	opts   Options
	tmpl   *template.Template
	logger *zap.Logger
}

// NewServer creates a web server for search.
func NewServer(search Searcher, opts Options, logger *zap.Logger) (*Server, error) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"score": func(s float64) string { return strconv.FormatFloat(s, 'f', 4, 64) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		search: search,
		opts:   opts,
		tmpl:   tmpl,
		logger: logger,
	}, nil
}

// Router builds the HTTP handler with all middleware applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/", s.handleIndex)
	r.Post("/search/text", s.handleSearchText)
	r.Post("/search/image", s.handleSearchImage)

	r.Route("/api/search", func(r chi.Router) {
		r.Get("/text", s.handleAPISearchText)
		r.Post("/image", s.handleAPISearchImage)
	})

	r.Get("/images/{id}", s.handleImage)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type resultItem struct {
	ID        string  `json:"id"`
	ImagePath string  `json:"image_path"`
	Score     float64 `json:"score"`
}

type searchResponse struct {
	Results []resultItem `json:"results"`
}

func toResults(hits []domain.Hit) []resultItem {
	items := make([]resultItem, len(hits))
	for i, h := range hits {
		items[i] = resultItem{ID: h.ID, ImagePath: h.ImagePath, Score: h.Score}
	}
	return items
}

type pageData struct {
	Mode     string // "text" or "image"
	Query    string
	Results  []resultItem
	Error    string
	Info     usecase.Info
	Searched bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, pageData{Mode: "text"})
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	query := r.FormValue("q")
	data := pageData{Mode: "text", Query: query, Searched: true}

	hits, err := s.search.TextToImages(r.Context(), query, s.opts.DefaultTopN)
	if err != nil {
		status, resp := s.logError(r, err)
		data.Error = "Search failed: " + resp.Message
		s.renderPage(w, r, status, data)
		return
	}
	data.Results = toResults(hits)
	s.renderPage(w, r, http.StatusOK, data)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Mode: "image", Searched: true}

	upload, err := s.readUpload(w, r)
	if err == nil {
		var hits []domain.Hit
		hits, err = s.search.ImageBytesToImages(r.Context(), upload, s.opts.DefaultTopN)
		data.Results = toResults(hits)
	}
	if err != nil {
		status, resp := s.logError(r, err)
		data.Error = "Search failed: " + resp.Message
		data.Results = nil
		s.renderPage(w, r, status, data)
		return
	}
	s.renderPage(w, r, http.StatusOK, data)
}

func (s *Server) handleAPISearchText(w http.ResponseWriter, r *http.Request) {
	topN, err := parseTopN(r.URL.Query().Get("top_n"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error()})
		return
	}

	hits, err := s.search.TextToImages(r.Context(), r.URL.Query().Get("q"), topN)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: toResults(hits)})
}

func (s *Server) handleAPISearchImage(w http.ResponseWriter, r *http.Request) {
	topN, err := parseTopN(r.URL.Query().Get("top_n"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error()})
		return
	}

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	hits, err := s.search.ImageBytesToImages(r.Context(), upload, topN)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: toResults(hits)})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	doc, err := s.search.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, resp := s.logError(r, err)
		http.Error(w, resp.Message, status)
		return
	}

	f, err := os.Open(doc.ImagePath)
	if err != nil {
		logpkg.FromContext(r.Context()).Warn("Stored image is not readable",
			zap.String("id", doc.ID), zap.Error(err))
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type healthResponse struct {
	Status string       `json:"status"`
	Info   usecase.Info `json:"info"`
	Model  string       `json:"model_check"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Model: "ok"}
	status := http.StatusOK

	info, err := s.search.Info(ctx)
	resp.Info = info
	if err != nil {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if r.URL.Query().Get("probe") != "" {
		if err := s.search.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Model = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// readUpload reads the "image" multipart field fully into memory.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("parse upload: %v: %w", err, domain.ErrInput)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("missing image field: %w", domain.ErrUnreadableImage)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %v: %w", err, domain.ErrInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload: %w", domain.ErrUnreadableImage)
	}
	return data, nil
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	if info, err := s.search.Info(r.Context()); err == nil {
		data.Info = info
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		logpkg.FromContext(r.Context()).Error("Failed to render page", zap.Error(err))
	}
}

func (s *Server) logError(r *http.Request, err error) (int, errorResponse) {
	status, resp := classify(err)
	log := logpkg.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("code", resp.Code), zap.Error(err))
	} else {
		log.Warn("Request rejected", zap.String("code", resp.Code), zap.Error(err))
	}
	return status, resp
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := s.logError(r, err)
	writeJSON(w, status, resp)
}

func parseTopN(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxTopN {
		return 0, fmt.Errorf("top_n must be between 1 and %d", maxTopN)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
