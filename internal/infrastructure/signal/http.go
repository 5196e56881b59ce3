package signal

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/hi-zp/recording/internal/infrastructure/monitoring"
	"github.com/hi-zp/recording/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the relay's HTTP surface: the WebSocket endpoint, health,
// metrics, and the recording upload API.
func NewRouter(server *RelayServer, uploadDir string, collector *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", gin.WrapF(server.HandleWebSocket))
	router.GET("/health", gin.WrapF(server.HealthCheck))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.POST("/upload", uploadHandler(uploadDir, collector, logger))
	router.Static("/uploads", uploadDir)

	return router
}

// uploadHandler stores a finalized recording posted as the multipart "file"
// field and answers {ok,url}, or {error} with a non-2xx status.
func uploadHandler(uploadDir string, collector *monitoring.PrometheusCollector, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
			return
		}

		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			logger.Errorw("failed to create upload dir", "dir", uploadDir, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
			return
		}

		name := utils.GenerateClientID() + "_" + filepath.Base(file.Filename)
		dst := filepath.Join(uploadDir, name)
		if err := c.SaveUploadedFile(file, dst); err != nil {
			logger.Errorw("failed to store upload", "path", dst, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		if collector != nil {
			collector.RecordUpload()
		}
		logger.Infow("recording uploaded", "name", name, "size", file.Size)
		c.JSON(http.StatusOK, gin.H{"ok": true, "url": "/uploads/" + name})
	}
}
