// Package autogradtest provides an in-process autograd server for tests.
package autogradtest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/logf"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// RPCPath is the path of the RPC HTTP endpoints.
	RPCPath = "/api/v1/rpc"
	// ServicePath is the path of the Connect service.
	ServicePath = "/grpc"
)

// Media is a stored upload.
type Media struct {
	ID        string
	Filename  string
	MediaType string
	Content   []byte
	RequestID string
	Auth      string
}

// Response is a canned response returned instead of the default handler result.
type Response struct {
	Status      int
	ContentType string
	Body        string

	// Location is set as the Location header if not empty.
	Location string
}

// CallError is returned from UnaryHandler to produce a Connect error envelope.
type CallError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return e.Code + ": " + e.Message
}

// UnaryHandler handles a unary Connect call with JSON request body.
type UnaryHandler func(ctx context.Context, req []byte) (any, error)

// Unary adapts a typed function to UnaryHandler.
func Unary[Req, Res any](fn func(ctx context.Context, req Req) (Res, error)) UnaryHandler {
	return func(ctx context.Context, body []byte) (any, error) {
		var req Req
		if err := flu.JSON(&req).DecodeFrom(bytes.NewReader(body)); err != nil {
			return nil, &CallError{Status: http.StatusBadRequest, Code: "invalid_argument", Message: err.Error()}
		}

		return fn(ctx, req)
	}
}

// Server is a fake autograd server.
// Media uploads are stored in memory and identified with random UUIDs.
type Server struct {
	*httptest.Server
	token    string
	mu       sync.RWMutex
	media    map[string]Media
	received []Media
	forced   *Response
	handlers map[string]UnaryHandler
}

// NewServer starts a server which accepts requests authorized with token.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		media:    make(map[string]Media),
		handlers: make(map[string]UnaryHandler),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())

	api := e.Group(RPCPath, s.authorize)
	api.POST("/saveMedia", s.saveMedia)

	grpc := e.Group(ServicePath)
	grpc.POST("/*", s.invoke)

	s.Server = httptest.NewServer(e)
	return s
}

func (s *Server) String() string {
	return "autogradtest.server"
}

// BaseURL returns the RPC HTTP endpoints URL.
func (s *Server) BaseURL() string {
	return s.URL + RPCPath
}

// ServiceURL returns the Connect service URL.
func (s *Server) ServiceURL() string {
	return s.URL + ServicePath
}

// Force makes saveMedia reply with the provided response.
// Uploads are still parsed and recorded in Received, but not stored.
func (s *Server) Force(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = &resp
}

// Reset restores the default saveMedia behavior.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = nil
}

// Handle registers a Connect procedure handler.
func (s *Server) Handle(procedure string, handler UnaryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[procedure] = handler
}

// Media returns the stored upload by ID.
func (s *Server) Media(id string) (Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	media, ok := s.media[id]
	return media, ok
}

// Received returns all parsed uploads in order of arrival.
func (s *Server) Received() []Media {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Media(nil), s.received...)
}

func (s *Server) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.authorized(c.Request()) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}

		return next(c)
	}
}

func (s *Server) authorized(req *http.Request) bool {
	return req.Header.Get(echo.HeaderAuthorization) == "Bearer "+s.token
}

func (s *Server) saveMedia(c echo.Context) error {
	ctx := c.Request().Context()
	fileInfo, err := c.FormFile("media")
	if err != nil {
		logf.Get(s).Debugf(ctx, "parse media: %v", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid media"})
	}

	file, err := fileInfo.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "system error"})
	}

	var content flu.ByteBuffer
	if _, err := flu.Copy(flu.IO{R: file}, &content); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "system error"})
	}

	media := Media{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Filename:  fileInfo.Filename,
		MediaType: c.FormValue("media_type"),
		Content:   content.Bytes(),
		RequestID: c.Request().Header.Get(echo.HeaderXRequestID),
		Auth:      c.Request().Header.Get(echo.HeaderAuthorization),
	}

	s.mu.Lock()
	s.received = append(s.received, media)
	forced := s.forced
	if forced == nil {
		s.media[media.ID] = media
	}

	s.mu.Unlock()

	if forced != nil {
		contentType := forced.ContentType
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}

		if forced.Location != "" {
			c.Response().Header().Set(echo.HeaderLocation, forced.Location)
		}

		return c.Blob(forced.Status, contentType, []byte(forced.Body))
	}

	logf.Get(s).Debugf(ctx, "[%s] saved media %s (%s) as %s", media.RequestID, media.Filename, media.MediaType, media.ID)
	return c.JSON(http.StatusCreated, echo.Map{"id": media.ID})
}

func (s *Server) invoke(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return writeCallError(c, &CallError{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "unauthorized"})
	}

	procedure := strings.TrimPrefix(c.Request().URL.Path, ServicePath)
	s.mu.RLock()
	handler, ok := s.handlers[procedure]
	s.mu.RUnlock()
	if !ok {
		return writeCallError(c, &CallError{Status: http.StatusNotFound, Code: "unimplemented", Message: procedure + " is not implemented"})
	}

	var body flu.ByteBuffer
	if _, err := flu.Copy(flu.IO{R: c.Request().Body}, &body); err != nil {
		return writeCallError(c, &CallError{Status: http.StatusBadRequest, Code: "invalid_argument", Message: err.Error()})
	}

	res, err := handler(c.Request().Context(), body.Bytes())
	if err != nil {
		callErr, ok := err.(*CallError)
		if !ok {
			callErr = &CallError{Status: http.StatusInternalServerError, Code: "internal", Message: "system error"}
		}

		return writeCallError(c, callErr)
	}

	return c.JSON(http.StatusOK, res)
}

func writeCallError(c echo.Context, err *CallError) error {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return c.JSON(status, err)
}
