// Package api exposes verification and the transaction store over HTTP.
package api

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

const (
	maxImages    = 10
	maxBodyBytes = 32 << 20
)

// Config holds the server's collaborators.
type Config struct {
	Verifier engine.Verifier
	Store    service.Storage
	Settings engine.SettingsSource
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Version  string
}

// Server is the HTTP API.
type Server struct {
	app      *fiber.App
	verifier engine.Verifier
	store    service.Storage
	settings engine.SettingsSource
	clock    clockwork.Clock
	logger   *slog.Logger
	version  string
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Day    string             `json:"day"`
	Counts []model.DailyCount `json:"counts"`
	Total  int                `json:"total"`
}

// New builds the server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Verifier == nil || cfg.Store == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("api server: %w", common.ErrMissingConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		verifier: cfg.Verifier,
		store:    cfg.Store,
		settings: cfg.Settings,
		clock:    cfg.Clock,
		logger:   common.LoggerOrDefault(cfg.Logger),
		version:  cfg.Version,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "receipt-sentinel",
		BodyLimit:             maxBodyBytes,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/verify", s.handleVerify)
	api.Get("/transactions", s.handleListTransactions)
	api.Get("/transactions/:id", s.handleGetTransaction)
	api.Delete("/transactions/:id", s.handleDeleteTransaction)
	api.Get("/stats", s.handleStats)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	return s.app.Listen(addr)
}

// ListenTLS serves HTTPS on addr with cert until Shutdown.
func (s *Server) ListenTLS(addr string, cert tls.Certificate) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.logger.Info("Starting API server", "addr", addr, "tls", true)
	return s.app.Listener(tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}))
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := s.clock.Now()
	err := c.Next()
	s.logger.Debug("Handled request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", s.clock.Since(start),
		"error", err)
	return err
}

// handleError maps errors to status codes: store lookups that miss are 404,
// an unreachable store is 503, fiber errors keep their code.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := err.Error()

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		msg = fe.Message
	case errors.Is(err, common.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, common.ErrOffline):
		code = fiber.StatusServiceUnavailable
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"version":          s.version,
		"settings_version": s.settings.Snapshot().Version,
	})
}

func (s *Server) handleVerify(c *fiber.Ctx) error {
	expected, err := strconv.ParseFloat(strings.TrimSpace(c.FormValue("expected_amount")), 64)
	if err != nil || expected <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "expected_amount must be a positive number")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form with field 'images' required")
	}
	files := form.File["images"]
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no images uploaded, use form field 'images'")
	}
	if len(files) > maxImages {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("at most %d images per receipt", maxImages))
	}

	images := make([]model.Image, 0, len(files))
	for _, fh := range files {
		img, rerr := readImage(fh)
		if rerr != nil {
			return fiber.NewError(fiber.StatusBadRequest, rerr.Error())
		}
		images = append(images, img)
	}

	out, err := s.verifier.Verify(c.UserContext(), images, expected, s.settings.Snapshot())
	if err != nil {
		return err
	}

	s.logger.Info("Verified upload",
		"images", len(images),
		"expected", expected,
		"status", out.Label())
	return c.JSON(out)
}

func readImage(fh *multipart.FileHeader) (model.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return model.Image{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.Image{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}

	mimeType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return model.Image{Source: fh.Filename, MIMEType: mimeType, Data: data}, nil
}

func (s *Server) handleGetTransaction(c *fiber.Ctx) error {
	txn, err := s.store.GetTransaction(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(txn)
}

func (s *Server) handleDeleteTransaction(c *fiber.Ctx) error {
	if err := s.store.DeleteTransaction(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	s.logger.Info("Deleted transaction", "id", c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	filter := service.TransactionFilter{
		Status: model.Status(c.Query("status")),
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
		}
		filter.Since = &t
	}

	txns, err := s.store.ListTransactions(c.UserContext(), filter)
	if err != nil {
		return err
	}
	if txns == nil {
		txns = []model.StoredTransaction{}
	}
	return c.JSON(txns)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	day := s.clock.Now()
	if q := c.Query("day"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "day must be YYYY-MM-DD")
		}
		day = parsed
	}

	counts, err := s.store.DailyCounts(c.UserContext(), day)
	if err != nil {
		return err
	}
	if counts == nil {
		counts = []model.DailyCount{}
	}

	resp := StatsResponse{Day: day.Format("2006-01-02"), Counts: counts}
	for _, n := range counts {
		resp.Total += n.Count
	}
	return c.JSON(resp)
}
