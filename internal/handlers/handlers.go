package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/usecase"
)

// Service is the use case surface exposed over HTTP.
type Service interface {
	VerifyImage(ctx context.Context, imageBytes []byte) (string, *face.Decision, error)
	VerifyDataURL(ctx context.Context, payload string) (string, *face.Decision, error)
	Detect(ctx context.Context, imageBytes []byte) face.Detection
	DetectDataURL(ctx context.Context, payload string) face.Detection
	GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	Login(ctx context.Context, username, password string) (*usecase.LoginResult, error)
	ListUsers(ctx context.Context) ([]usecase.UserStatus, error)
	Health(ctx context.Context) usecase.HealthStatus
	ReloadEnrollment(ctx context.Context) (*usecase.EnrollmentSummary, error)
	IssueToken(identity, method string) (string, time.Time, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Health(c.Request.Context()))
	})

	api := router.Group("/api")
	api.GET("/users", func(c *gin.Context) {
		users, err := svc.ListUsers(c.Request.Context())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	api.POST("/detect", func(c *gin.Context) {
		img, status, err := readImage(c)
		if err != nil {
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}

		var d face.Detection
		if img.raw != nil {
			d = svc.Detect(c.Request.Context(), img.raw)
		} else {
			d = svc.DetectDataURL(c.Request.Context(), img.dataURL)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":                d.Ready,
			"ready_for_verification": d.Ready,
			"message":                d.Message,
			"reason":                 d.Reason,
			"bounding_boxes":         d.Regions,
		})
	})

	api.POST("/verify", func(c *gin.Context) {
		img, status, err := readImage(c)
		if err != nil {
			c.JSON(status, gin.H{"type": "face_verification", "success": false, "error": err.Error()})
			return
		}

		var (
			requestID string
			decision  *face.Decision
		)
		if img.raw != nil {
			requestID, decision, err = svc.VerifyImage(c.Request.Context(), img.raw)
		} else {
			requestID, decision, err = svc.VerifyDataURL(c.Request.Context(), img.dataURL)
		}
		if err != nil {
			internalError(c, err)
			return
		}

		resp := gin.H{
			"type":       "face_verification",
			"request_id": requestID,
			"success":    decision.Accepted,
			"username":   nil,
			"confidence": decision.Confidence,
			"reason":     decision.Reason,
			"message":    decision.Message,
		}
		if decision.Accepted {
			token, expires, err := svc.IssueToken(decision.Identity, auth.MethodFace)
			if err != nil {
				internalError(c, err)
				return
			}
			resp["username"] = decision.Identity
			resp["token"] = token
			resp["expires_at"] = expires
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": usecase.MsgCredentialsMissing})
			return
		}

		result, err := svc.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Login error: " + err.Error()})
			return
		}
		if !result.Success {
			status := http.StatusUnauthorized
			if result.Message == usecase.MsgCredentialsMissing {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"success": false, "message": result.Message})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    result.Message,
			"username":   result.Username,
			"token":      result.Token,
			"expires_at": result.ExpiresAt,
		})
	})

	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.GET("/api/session", func(c *gin.Context) {
		username, _ := auth.GetUserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"username": username, "method": auth.GetAuthMethod(c.Request.Context())})
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := svc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, logResponse(log))
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		report, err := svc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, logResponse(d))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    logResponse(report.Request),
			"duplicates": duplicates,
		})
	})

	protected.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	protected.POST("/api/enrollment/reload", func(c *gin.Context) {
		summary, err := svc.ReloadEnrollment(c.Request.Context())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
				return
			}
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// internalError hides infrastructure details but keeps the failing
// operation and request id so the client can quote them.
func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{"error": "internal error"}
	if opErr, ok := logging.AsOperationError(err); ok {
		body["operation"] = opErr.Operation
		if opErr.RequestID != "" {
			body["request_id"] = opErr.RequestID
		}
	}
	c.JSON(http.StatusInternalServerError, body)
}

func logResponse(log *repository.VerificationLog) gin.H {
	return gin.H{
		"request_id": log.RequestID,
		"username":   log.Identity,
		"confidence": log.Confidence,
		"success":    log.Success,
		"reason":     log.Reason,
		"details":    log.Details,
		"sha1_hash":  log.SHA1Hash,
		"latency_ms": log.LatencyMs,
		"created_at": log.CreatedAt,
	}
}
