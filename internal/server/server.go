package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-incidents/internal/api"
	"github.com/joeblew999/plat-incidents/internal/db"
	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/humastar"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/metrics"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/service"
	"github.com/joeblew999/plat-incidents/internal/templates"
)

// maxUpload bounds boundary file uploads.
const maxUpload = 64 << 20

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	DataDir      string
	WebDir       string // Path to web/ directory for static files
	FragmentsDir string // Overrides the embedded popup fragments when set
	DBDriver     string
	DSN          string
	Nonce        string
	Tolerance    float64
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	Logger       *slog.Logger
}

// Server is the incidents HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	links    *humastar.Links
	log      *slog.Logger
}

// New creates a new server. Missing boundary data or database are logged
// and leave the affected routes answering 404/503.
func New(cfg Config) *Server {
	log := logger.Or(cfg.Logger)
	mux := http.NewServeMux()

	links := humastar.NewLinks()
	humaConfig := api.DefaultConfig(links)
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	humaAPI := humago.New(mux, humaConfig)

	renderer, err := templates.New(cfg.FragmentsDir)
	if err != nil {
		log.Warn("fragments_load_failed", "dir", cfg.FragmentsDir, "err", err)
		renderer = templates.Default()
	}

	bus := service.NewEventBus()
	services := &api.Services{
		Countries:   service.NewCountryService(cfg.DataDir, cfg.Tolerance),
		Preferences: service.NewPreferenceService(openPrefs(cfg), bus),
		Bus:         bus,
		Renderer:    renderer,
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		services: services,
		links:    links,
		log:      log,
	}
	s.loadCountries()
	s.openDB()
	s.routes()
	s.handler = logger.AccessMiddleware(log, metrics.ObserveHTTP)(mux)
	return s
}

func openPrefs(cfg Config) prefs.Store {
	if rc := prefs.OpenRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB); rc != nil {
		return prefs.NewRedis(rc)
	}
	return prefs.NewFile(cfg.DataDir)
}

// loadCountries reads the boundary file and refreshes the static snapshot.
func (s *Server) loadCountries() {
	c := s.services.Countries
	if err := c.Load(); err != nil {
		s.log.Warn("countries_load_failed", "path", c.SourcePath(), "err", err)
		return
	}
	stamp, err := c.Export()
	if err != nil {
		s.log.Warn("countries_export_failed", "path", c.StaticPath(), "err", err)
		return
	}
	s.log.Info("countries_loaded", "count", len(c.List()), "last_updated", stamp)
}

func (s *Server) openDB() {
	conn, err := db.Get(db.Config{
		Driver:  s.config.DBDriver,
		DSN:     s.config.DSN,
		DataDir: s.config.DataDir,
		DBName:  "incidents",
	})
	if err != nil {
		s.log.Warn("db_open_failed", "driver", s.config.DBDriver, "err", err)
		return
	}
	repo := service.NewIncidentRepository(conn)
	if err := repo.Migrate(context.Background()); err != nil {
		s.log.Warn("db_migrate_failed", "err", err)
		return
	}
	s.db = conn
	s.services.Incidents = repo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the backing services, e.g. for the export command.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close closes server resources.
func (s *Server) Close() error {
	return db.Close()
}

func (s *Server) routes() {
	// Huma REST API routes (OpenAPI-documented JSON + Datastar SSE endpoints)
	api.RegisterRoutes(s.humaAPI, s.services, api.Options{
		Nonce:   s.config.Nonce,
		DataDir: s.config.DataDir,
		Links:   s.links,
	})

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("POST /api/v1/countries/source", s.handleSourceUpload)

	// The exported snapshot is the primary country transport.
	s.mux.HandleFunc("GET /static/countries.json", s.handleSnapshot)
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-incidents",
		"status":  "running",
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/geo+json")
	http.ServeFile(w, r, s.services.Countries.StaticPath())
}

// handleSourceUpload replaces the boundary file, reloads it and re-exports
// the snapshot. Progress goes back as Datastar signals.
func (s *Server) handleSourceUpload(w http.ResponseWriter, r *http.Request) {
	if n := s.config.Nonce; n != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(geodata.NonceHeader)), []byte(n)) != 1 {
		http.Error(w, "invalid or missing nonce", http.StatusForbidden)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		http.Error(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".geojson" && ext != ".json" {
		http.Error(w, "Only .geojson or .json files are allowed", http.StatusBadRequest)
		return
	}

	sse := humastar.SSE{ServerSentEventGenerator: datastar.NewSSE(w, r)}
	c := s.services.Countries
	if err := replaceFile(c.SourcePath(), file); err != nil {
		s.log.Warn("countries_upload_failed", "err", err)
		sse.Flash(humastar.FlashError, "Failed to save file")
		return
	}
	if err := c.Load(); err != nil {
		sse.Flash(humastar.FlashError, "Invalid boundary file: "+err.Error())
		return
	}
	stamp, err := c.Export()
	if err != nil {
		sse.Flash(humastar.FlashError, "Export failed: "+err.Error())
		return
	}
	s.services.Bus.Publish(service.Event{
		Resource: service.ResourceCountries,
		Action:   "updated",
		Data:     map[string]any{"last_updated": stamp},
	})
	sse.Signals(map[string]any{
		humastar.FlashSuccess: "Boundaries updated: " + header.Filename,
		"lastUpdated":         stamp,
	})
}

func replaceFile(path string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".upload"
	dest, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(tmp)
		return err
	}
	if err := dest.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
