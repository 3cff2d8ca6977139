// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown and OpenTelemetry setup for the invoicer
// services.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("invoice_number", n).Info("invoice created")
//
// Metrics are registered once per registry and exposed on the health server:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.InvoiceCreated("pro")
//
// Health checks treat Postgres as critical. Redis and the object store are
// attached by the caller:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("s3", true, objectStore)
package observability
