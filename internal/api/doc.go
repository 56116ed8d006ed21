// Package api hosts the HTTP handlers of the media service.
//
// Handlers translate requests into media.Service calls and map the returned
// errors onto JSON responses. They assume the middleware stack from
// internal/server has already attached the request logger and, for protected
// routes, the authenticated principal.
package api
