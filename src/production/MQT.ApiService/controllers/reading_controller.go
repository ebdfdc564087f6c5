package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/implementation/readings"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	api_models "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models/api"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

const maxIngestBodyBytes = 100 << 10

// Response texts
const (
	MsgIngested       = "Sensor reading ingested successfully"
	ErrTextValidation = "Validation failed"
	ErrTextNotFound   = "Not found"
	ErrTextInternal   = "Internal server error"
	msgIngestFailed   = "Failed to ingest sensor reading"
	msgLatestFailed   = "Failed to retrieve latest sensor reading"
	msgNoReadings     = "No readings found for device: "
)

// ReadingController handles sensor reading ingestion and lookup
type ReadingController struct {
	readingService *readings.ReadingService
	logger         *logger.Logger
	storeTimeout   time.Duration
}

// NewReadingController creates a new reading controller. storeTimeout bounds
// each store call made for a request.
func NewReadingController(readingService *readings.ReadingService, logger *logger.Logger, storeTimeout time.Duration) *ReadingController {
	return &ReadingController{
		readingService: readingService,
		logger:         logger,
		storeTimeout:   storeTimeout,
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router *gin.Engine) {
	sensor := router.Group("/api/sensor")
	{
		sensor.POST("/ingest", c.IngestReading)
		sensor.GET("/:deviceId/latest", c.GetLatestReading)
	}
}

func (c *ReadingController) IngestReading(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxIngestBodyBytes)
	body, err := ctx.GetRawData()
	if err != nil {
		c.respondValidation(ctx, validation.BodyError())
		return
	}

	candidate, err := validation.DecodeCandidate(body)
	if err != nil {
		c.respondValidation(ctx, validation.BodyError())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), c.storeTimeout)
	defer cancel()

	stored, err := c.readingService.Ingest(reqCtx, candidate)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			c.respondValidation(ctx, verr)
			return
		}
		c.respondInternal(ctx, err, msgIngestFailed)
		return
	}

	ctx.JSON(http.StatusCreated, api_models.SuccessResponse{
		Success: true,
		Message: MsgIngested,
		Data:    api_models.NewStoredReading(stored),
	})
}

func (c *ReadingController) GetLatestReading(ctx *gin.Context) {
	deviceID := strings.TrimSpace(ctx.Param("deviceId"))

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), c.storeTimeout)
	defer cancel()

	reading, err := c.readingService.Latest(reqCtx, deviceID)
	if err != nil {
		var verr *validation.ValidationError
		switch {
		case errors.As(err, &verr):
			c.respondValidation(ctx, verr)
		case errors.Is(err, interfaces.ErrReadingNotFound):
			ctx.JSON(http.StatusNotFound, api_models.ErrorResponse{
				Success: false,
				Error:   ErrTextNotFound,
				Message: msgNoReadings + deviceID,
			})
		default:
			c.respondInternal(ctx, err, msgLatestFailed)
		}
		return
	}

	ctx.JSON(http.StatusOK, api_models.SuccessResponse{
		Success: true,
		Data:    api_models.NewLatestReading(reading),
	})
}

func (c *ReadingController) respondValidation(ctx *gin.Context, verr *validation.ValidationError) {
	details := make([]api_models.FieldDetail, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		details = append(details, api_models.FieldDetail{Field: f.Field, Message: f.Message})
	}
	ctx.JSON(http.StatusBadRequest, api_models.ErrorResponse{
		Success: false,
		Error:   ErrTextValidation,
		Details: details,
	})
}

// respondInternal logs the full error and answers with a generic message only
func (c *ReadingController) respondInternal(ctx *gin.Context, err error, message string) {
	middleware.LoggerFromContext(ctx, c.logger).Logger.Error().
		Err(err).
		Str("path", ctx.Request.URL.Path).
		Msg(message)

	ctx.JSON(http.StatusInternalServerError, api_models.ErrorResponse{
		Success: false,
		Error:   ErrTextInternal,
		Message: message,
	})
}
