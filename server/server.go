// Package server exposes the review assistant over HTTP.
package server

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/logging"
	"github.com/hupe1980/reviewrag/rag"
)

// Assistant is the conversational surface the server drives.
type Assistant interface {
	Ask(ctx context.Context, sessionID, question string) (*rag.Answer, error)
	History(sessionID string) ([]core.Turn, error)
	Reset(sessionID string) error
}

// Options configures a Server.
type Options struct {
	// BodyLimit bounds request bodies in bytes.
	BodyLimit int
	// Tracing wraps every request in a span via otelfiber.
	Tracing bool
	Logger  logging.Logger
}

// Server routes HTTP requests to an Assistant.
type Server struct {
	app       *fiber.App
	assistant Assistant
	logger    logging.Logger
}

// New builds the fiber app and registers the routes.
func New(a Assistant, optFns ...func(o *Options)) *Server {
	opts := Options{BodyLimit: 64 * 1024, Tracing: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{assistant: a, logger: opts.Logger}
	s.app = fiber.New(fiber.Config{
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          s.handleError,
	})
	if opts.Tracing {
		s.app.Use(otelfiber.Middleware())
	}
	s.registerRoutes(s.app)
	return s
}

// App returns the underlying fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes(app *fiber.App) {
	app.Get("/healthz", s.health)

	v1 := app.Group("/v1/sessions")
	v1.Post(":id/ask", s.ask)
	v1.Get(":id/history", s.history)
	v1.Delete(":id", s.reset)
}

// AskRequest is the body of POST /v1/sessions/:id/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// HistoryResponse lists a session's turns.
type HistoryResponse struct {
	SessionID string      `json:"session_id"`
	Turns     []core.Turn `json:"turns"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) ask(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	answer, err := s.assistant.Ask(c.UserContext(), sessionID(c), req.Question)
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

func (s *Server) history(c *fiber.Ctx) error {
	id := sessionID(c)
	turns, err := s.assistant.History(id)
	if err != nil {
		return err
	}
	return c.JSON(HistoryResponse{SessionID: id, Turns: turns})
}

func (s *Server) reset(c *fiber.Ctx) error {
	if err := s.assistant.Reset(sessionID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// sessionID copies the id route param. Params alias the request buffer,
// which fiber reuses once the handler returns, and session ids outlive the
// request as store keys.
func sessionID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := StatusCode(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err.Error())
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}

// StatusCode maps pipeline errors onto HTTP status codes.
func StatusCode(err error) int {
	var fErr *fiber.Error
	switch {
	case errors.As(err, &fErr):
		return fErr.Code
	case errors.Is(err, core.ErrInvalidSession), errors.Is(err, core.ErrEmptyQuestion):
		return fiber.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound):
		return fiber.StatusNotFound
	case core.IsGenerationError(err):
		return fiber.StatusBadGateway
	case core.IsRetrievalError(err):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
