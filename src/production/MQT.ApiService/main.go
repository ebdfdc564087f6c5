package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/controllers"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/implementation/readings"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/middleware"
	container "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewApiContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting API Service")

	config := ctr.GetConfig()

	// Lifetime context for background work, cancelled on shutdown
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Connect the reading store
	initCtx, initCancel := context.WithTimeout(appCtx, config.Store.Mongo.ConnectTimeout+10*time.Second)
	readingRepo, err := ctr.GetReadingRepository(initCtx)
	initCancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize reading store")
	}

	// Start the MQTT listener; a broker outage must not keep the HTTP API down
	listener, err := ctr.GetListener(appCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to create MQTT listener")
	}
	if listener != nil {
		if err := listener.Start(appCtx); err != nil {
			logger.ErrorWithError(err, "Failed to start MQTT listener")
		}
	} else {
		logger.Info("MQTT disabled; set BROKER_HOST to enable the listener")
	}

	healthChecker, err := ctr.GetHealthChecker(appCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to create health checker")
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	readingService := readings.NewReadingService(readingRepo, ctr.GetValidator())
	readingController := controllers.NewReadingController(readingService, logger, config.Server.StoreTimeout)
	healthController := controllers.NewHealthController(healthChecker, logger)

	readingController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("API service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Graceful shutdown: drain HTTP, then the listener and store via the container
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
	// The container stops the listener before closing the store; only then
	// is the application context cancelled
	if err := ctr.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Container shutdown failed")
	}
	appCancel()
}
