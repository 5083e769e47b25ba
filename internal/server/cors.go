// Package server wires the HTTP boundary: CORS policy, auth middleware, and
// the gin router that dispatches to internal/handler.
package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/memcortex/fabric/internal/config"
)

// developmentOrigins is the fixed allowlist spec.md §6 names for local
// development: the desktop shell runs under the null origin everywhere, and
// a browser-hosted dev client additionally needs the two loopback forms on
// the app's usual ports.
var developmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

// CORS builds the CORS middleware per spec.md §6's resolved Open Question:
// production allows exactly the null origin (the desktop shell has no
// "http(s)://host" origin at all), development additionally allows the
// loopback origins above. Neither environment ever allows "*" — credentials
// are always on, and wildcard + credentials is both insecure and rejected
// by browsers outright.
func CORS(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc:  allowOriginFunc(cfg),
	}
	return cors.New(corsCfg)
}

// allowOriginFunc never returns true for "*"; gin-contrib/cors only calls
// this when AllowOrigins is empty, so wildcard matching is structurally
// impossible here, not just avoided by convention.
func allowOriginFunc(cfg *config.Config) func(origin string) bool {
	return func(origin string) bool {
		// A request from the desktop shell (file://, or an embedded
		// webview) carries the literal string "null" as its Origin header.
		if origin == "null" {
			return true
		}
		if cfg.IsProduction() {
			return false
		}
		for _, o := range developmentOrigins {
			if origin == o {
				return true
			}
		}
		return false
	}
}
