package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/controllers"
	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/middleware"
	container "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	config := ctr.GetConfig()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	initCtx, initCancel := context.WithTimeout(appCtx, config.Store.Mongo.ConnectTimeout+10*time.Second)
	if _, err := ctr.GetReadingRepository(initCtx); err != nil {
		initCancel()
		logger.FatalWithError(err, "Failed to initialize reading store")
	}
	initCancel()

	// Create and start MQTT listener
	listener, err := ctr.GetListener(appCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to create MQTT listener")
	}
	if err := listener.Start(appCtx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT listener")
	}

	healthChecker, err := ctr.GetHealthChecker(appCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to create health checker")
	}

	// Health check server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID(logger), gin.Recovery())
	controllers.NewHealthController(healthChecker, logger).RegisterRoutes(router)

	port := config.Server.Port
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Health server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
	// The container stops the listener before closing the store; only then
	// is the application context cancelled
	if err := ctr.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Container shutdown failed")
	}
	appCancel()
}
