package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"

	"qr-service/internal/qrtool"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	store, backend, err := qrtool.NewStoreFromEnv(context.Background(), os.Getenv, logger)
	if err != nil {
		logger.Error("stats backend unavailable, counting in memory", "error", err)
		store, backend = qrtool.NewMemoryStore(), qrtool.BackendMemory
	}
	logger.Info("cold start", "stats_backend", backend,
		"environment", os.Getenv("ENVIRONMENT"),
		"function_url", os.Getenv("LAMBDA_DEPLOYMENT") == "true")

	server := qrtool.NewServer(qrtool.NewRecorder(store, logger), logger)
	lambda.Start(qrtool.FunctionURLHandler(server.Router()))
}
