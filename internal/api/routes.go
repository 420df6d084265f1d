package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/paramctl/internal/auth"
	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/engine"
	"github.com/danmuck/paramctl/internal/paramfile"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxImportBytes = 4 << 20

type valueBody struct {
	Value *float64 `json:"value"`
}

func (s *Server) RegisterRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		v := s.engine.View()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"service":   s.Name,
			"version":   version,
			"connected": v.Connected,
			"session":   v.Session,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/params", func(c *gin.Context) {
		mode, err := engine.ParseFilterMode(c.Query("mode"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v := s.engine.View()
		names := v.Classify(mode, c.Query("q"))
		rows := make([]engine.Row, 0, len(names))
		for _, name := range names {
			if row, ok := v.Row(name); ok {
				rows = append(rows, row)
			}
		}
		body := gin.H{
			"mode":    mode,
			"session": v.Session,
			"count":   len(rows),
			"params":  rows,
		}
		if grouped, _ := strconv.ParseBool(c.Query("grouped")); grouped {
			body["groups"] = engine.GroupByPrefix(names)
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/params/:name", func(c *gin.Context) {
		row, ok := s.engine.View().Row(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "parameter not found"})
			return
		}
		c.JSON(http.StatusOK, row)
	})

	r.GET("/staged", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.engine.View().Summary())
	})

	r.GET("/diff", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"diff": s.engine.Diff()})
	})

	w := r.Group("/", auth.Require(s.auth))

	w.PUT("/staged/:name", func(c *gin.Context) {
		value, ok := bindValue(c)
		if !ok {
			return
		}
		if err := s.engine.Stage(c.Request.Context(), c.Param("name"), value); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.engine.View().Summary())
	})

	w.DELETE("/staged/:name", func(c *gin.Context) {
		if err := s.engine.Unstage(c.Request.Context(), c.Param("name")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.engine.View().Summary())
	})

	w.DELETE("/staged", func(c *gin.Context) {
		n, err := s.engine.UnstageAll(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": n})
	})

	w.POST("/apply", func(c *gin.Context) {
		report, err := s.engine.ApplyStaged(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	w.POST("/refresh", func(c *gin.Context) {
		if err := s.engine.Refresh(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.engine.View().Summary())
	})

	w.POST("/write/:name", func(c *gin.Context) {
		value, ok := bindValue(c)
		if !ok {
			return
		}
		p, err := s.engine.WriteNow(c.Request.Context(), c.Param("name"), value)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	w.POST("/import", func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(raw) > maxImportBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "parameter file exceeds 4 MiB"})
			return
		}
		entries, err := paramfile.Parse(string(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := s.engine.ImportFile(c.Request.Context(), entries)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	r.GET("/export", func(c *gin.Context) {
		v := s.engine.View()
		c.Header("Content-Disposition", `attachment; filename="params.param"`)
		c.String(http.StatusOK, paramfile.Format(v.Store))
	})

	r.GET("/ws", s.handleWS)
}

func bindValue(c *gin.Context) (float64, bool) {
	var body valueBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	if body.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return 0, false
	}
	return *body.Value, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps engine and device errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidName),
		errors.Is(err, engine.ErrInvalidValue),
		errors.Is(err, engine.ErrInvalidFilterMode):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrApplyInProgress),
		errors.Is(err, engine.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, device.ErrNotConnected),
		errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrApplyTransport):
		return http.StatusBadGateway
	case errors.Is(err, device.ErrUnknownParam):
		return http.StatusNotFound
	case errors.Is(err, device.ErrRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
