// Package httpserver runs the service's HTTP listener with graceful shutdown
// and provides the /healthz handler.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns when ctx ends and in-flight requests have finished or the
// shutdown timeout elapsed.
package httpserver
