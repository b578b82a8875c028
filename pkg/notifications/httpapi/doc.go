// Package httpapi exposes the notification engine over HTTP.
//
// JSON endpoints answer with a {data, meta, error} envelope. Two streaming
// endpoints push live updates to the dashboard: a websocket feed of lifecycle
// events per user and a datastar SSE stream that keeps an unread badge
// current.
//
//	api := httpapi.New(manager, httpapi.WithLogger(log), httpapi.WithHealthChecks(checks...))
//	srv.Run(ctx, api.Routes())
package httpapi
