package dashboard

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"showtime-analytics/models"
	"showtime-analytics/services"
	"showtime-analytics/storage"
	"showtime-analytics/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// Options configures the dashboard.
type Options struct {
	EventCode string
	Currency  string
	// LoadTimeout bounds one Source.Load call; 0 means 2 minutes.
	LoadTimeout time.Duration
}

// Server renders a Source as an HTML dashboard, a JSON API and a CSV
// download. Every request loads a fresh ResultSet from the Source.
type Server struct {
	source    storage.Source
	opts      Options
	logger    *utils.Logger
	templates *template.Template
	started   time.Time
}

func NewServer(source storage.Source, opts Options, logger *utils.Logger) (*Server, error) {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Minute
	}

	tmpl, err := template.New("dashboard").Funcs(template.FuncMap{
		"currency": func(v float64) string { return services.FormatCurrency(opts.Currency, v) },
		"pct":      percentOf,
		"width":    barWidth,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse templates: %w", err)
	}

	return &Server{
		source:    source,
		opts:      opts,
		logger:    logger,
		templates: tmpl,
		started:   time.Now(),
	}, nil
}

// Router wires all dashboard routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/", s.handleIndex).Methods("GET")
	router.HandleFunc("/api/summary", s.handleSummaryJSON).Methods("GET")
	router.HandleFunc("/api/summary.csv", s.handleSummaryCSV).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

func (s *Server) load(r *http.Request) (*models.ResultSet, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.LoadTimeout)
	defer cancel()
	return s.source.Load(ctx)
}

type pageData struct {
	EventCode string
	Currency  string
	Result    *models.ResultSet
	Total     models.CitySummary
	Cities    []models.CitySummary
	MaxGross  float64
	Error     string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rs, err := s.load(r)
	if err != nil {
		s.logger.Error("[dashboard] Failed to load data: %v", err)
		s.render(w, http.StatusServiceUnavailable, "error.html", pageData{EventCode: s.opts.EventCode, Error: err.Error()})
		return
	}

	total, ok := rs.Total()
	if !ok {
		total = services.OverallTotal(rs.Rows)
	}
	cities := rs.Cities()
	var maxGross float64
	for _, c := range cities {
		if c.MaxCapacityGross > maxGross {
			maxGross = c.MaxCapacityGross
		}
	}

	s.render(w, http.StatusOK, "dashboard.html", pageData{
		EventCode: s.opts.EventCode,
		Currency:  s.opts.Currency,
		Result:    rs,
		Total:     total,
		Cities:    cities,
		MaxGross:  maxGross,
	})
}

// render executes into a buffer first so a template failure never leaves a
// half-written page.
func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("[dashboard] render %s: %v", name, err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleSummaryJSON(w http.ResponseWriter, r *http.Request) {
	rs, err := s.load(r)
	if err != nil {
		s.logger.Error("[dashboard] Failed to load data: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleSummaryCSV(w http.ResponseWriter, r *http.Request) {
	rs, err := s.load(r)
	if err != nil {
		s.logger.Error("[dashboard] Failed to load data: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := storage.WriteResultSet(&buf, rs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="movie_analytics_%s.csv"`, s.opts.EventCode))
	_, _ = buf.WriteTo(w)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "UP",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("[dashboard] %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func percentOf(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

// barWidth clamps a percentage to a CSS width in [0, 100].
func barWidth(pct float64) string {
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	return fmt.Sprintf("%.2f%%", pct)
}
