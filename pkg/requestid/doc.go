// Package requestid tags every API request with a correlation ID.
//
// Middleware reuses a well-formed X-Request-ID header or generates a UUID,
// echoes it on the response and stores it in the request context.
// LoggerExtractor plugs into logger.WithContextExtractors so every record
// logged with that context carries request_id.
package requestid
