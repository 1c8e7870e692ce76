package qrtool

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

//go:embed templates/index.html
var templates embed.FS

var pageTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

const requestIDHeader = "X-Request-Id"

type pageData struct {
	Title         string
	Sizes         []int
	ECCs          []string
	Margins       []int
	DefaultSize   int
	DefaultECC    string
	DefaultMargin int
}

// Server serves the QR page and its API.
type Server struct {
	recorder *Recorder
	logger   *slog.Logger
	nonce    func() string
}

func NewServer(recorder *Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		recorder: recorder,
		logger:   logger,
		nonce: func() string {
			return uuid.NewString()[:8]
		},
	}
}

// Router returns the engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger), gin.Recovery())
	router.SetHTMLTemplate(pageTemplate)

	router.GET("/", s.page)
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	api := router.Group("/api")
	api.POST("/generate", s.generate)
	api.GET("/stats", s.stats)
	return router
}

func (s *Server) page(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.HTML(http.StatusOK, "index.html", pageData{
		Title:         "QR Code Creator (with Variants)",
		Sizes:         Sizes,
		ECCs:          ECCs,
		Margins:       Margins,
		DefaultSize:   256,
		DefaultECC:    "M",
		DefaultMargin: 2,
	})
}

func (s *Server) generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out, req, err := Generate(req, s.nonce)
	if errors.Is(err, ErrInvalidTarget) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}
	// Counting is best effort; a generated code is still returned.
	if err := s.recorder.Record(c.Request.Context(), req.ECC); err != nil {
		s.logger.Warn("recording stats failed", "error", err)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.recorder.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("reading stats failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", id,
		)
	}
}
