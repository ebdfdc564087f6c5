package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/health"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
)

// HealthController serves liveness, readiness and the aggregated health report
type HealthController struct {
	checker *health.HealthChecker
	logger  *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker: checker,
		logger:  logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.Health)
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
}

func (c *HealthController) Health(ctx *gin.Context) {
	report := c.checker.GetHealthStatus(ctx.Request.Context())

	code := http.StatusOK
	if report.Status == health.StatusDown {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, report)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": health.StatusOK,
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	if err := c.checker.Ready(ctx.Request.Context()); err != nil {
		middleware.LoggerFromContext(ctx, c.logger).Logger.Warn().Err(err).Msg("Readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"store":  false,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"store":  true,
	})
}
