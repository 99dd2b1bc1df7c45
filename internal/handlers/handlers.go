package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/repository"
)

// parts are the image slots of one verification. front and selfie are
// required at creation time; back is optional.
var parts = []string{"front", "back", "selfie"}

// JobStore is the store surface the API needs.
type JobStore interface {
	Create(ctx context.Context, documentType string, objectKeys map[string]string) (string, error)
	Get(ctx context.Context, id string) (jobstore.Job, error)
}

// Presigner issues time-limited upload URLs for server-chosen keys.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
}

// MetricsSource aggregates outcomes from the audit trail. Optional.
type MetricsSource interface {
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

type presignRequest struct {
	DocumentType string            `json:"document_type" binding:"required"`
	UserFields   map[string]string `json:"user_fields"`
	ContentTypes map[string]string `json:"content_types"`
}

type createRequest struct {
	DocumentType string            `json:"document_type" binding:"required"`
	ObjectKeys   map[string]string `json:"object_keys" binding:"required"`
	UserFields   map[string]string `json:"user_fields"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metrics may be
// nil, in which case the metrics endpoint is not registered.
func RegisterRoutes(router *gin.Engine, store JobStore, presigner Presigner, metrics MetricsSource, presignExpiry time.Duration, logger *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1 := router.Group("/v1")

	v1.POST("/presign", func(c *gin.Context) {
		var req presignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document_type is required"})
			return
		}

		uid := uuid.NewString()
		objectKeys := make(map[string]string, len(parts))
		uploadURLs := make(map[string]string, len(parts))
		contentTypes := make(map[string]string, len(parts))

		for _, part := range parts {
			contentType := req.ContentTypes[part]
			if contentType == "" {
				contentType = "image/jpeg"
			}
			ext, ok := extensionFor(contentType)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported content type %q for part %q", contentType, part)})
				return
			}

			// Keys are server-chosen; callers only influence the extension
			// through the declared content type.
			key := fmt.Sprintf("raw/%s-%s.%s", uid, part, ext)
			url, err := presigner.PresignPut(c.Request.Context(), key, contentType, presignExpiry)
			if err != nil {
				logger.Error("presign failed", zap.Error(err), zap.String("part", part))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate upload url"})
				return
			}
			objectKeys[part] = key
			uploadURLs[part] = url
			contentTypes[part] = contentType
		}

		c.JSON(http.StatusOK, gin.H{
			"object_keys":   objectKeys,
			"upload_urls":   uploadURLs,
			"content_types": contentTypes,
		})
	})

	v1.POST("/verifications", func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document_type and object_keys are required"})
			return
		}

		id, err := store.Create(c.Request.Context(), req.DocumentType, req.ObjectKeys)
		if errors.Is(err, jobstore.ErrMissingObjectKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logger.Error("job creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create verification"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id, "status": jobstore.StatusPending})
	})

	v1.GET("/verifications/:id", func(c *gin.Context) {
		job, err := store.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err != nil {
			logger.Error("job lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load verification"})
			return
		}

		c.JSON(http.StatusOK, jobView(job))
	})

	if metrics != nil {
		v1.GET("/metrics", func(c *gin.Context) {
			agg, err := metrics.AggregateMetrics(c.Request.Context())
			if err != nil {
				logger.Error("metrics aggregation failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
				return
			}
			c.JSON(http.StatusOK, agg.Summary())
		})
	}
}

// jobView renders the client-facing record, including the derived
// explanation list once the pipeline has produced its signals.
func jobView(job jobstore.Job) gin.H {
	explanations := []gin.H{}
	if job.FacePresent != nil {
		explanations = append(explanations, gin.H{
			"check":  "selfie_face_present",
			"pass":   *job.FacePresent,
			"detail": "face detection on the selfie image",
		})
	}
	if job.Fields != nil {
		explanations = append(explanations, gin.H{
			"check":  "id_front_parsed",
			"pass":   job.Fields.Parsed(),
			"detail": "field extraction from the ID front image",
		})
	}

	view := gin.H{
		"id":             job.ID,
		"status":         job.Status,
		"document_type":  job.DocumentType,
		"score":          job.Score,
		"fields":         job.Fields,
		"explanations":   explanations,
		"report_pdf_url": nil,
	}
	if job.Error != "" {
		view["error"] = job.Error
	}
	return view
}

// extensionFor maps a declared content type onto the object key extension.
func extensionFor(contentType string) (string, bool) {
	switch contentType {
	case "image/jpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	}
	return "", false
}
