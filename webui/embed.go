// Package webui embeds the static dashboard and serves it with an
// SPA-style fallback to index.html.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed web
var assets embed.FS

// Register mounts the embedded UI on the gin engine. API and
// WebSocket paths are never shadowed.
func Register(r *gin.Engine) {
	sub, err := fs.Sub(assets, "web")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(sub))

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if _, err := fs.Stat(sub, strings.TrimPrefix(path, "/")); err != nil {
			c.Request.URL.Path = "/"
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
}
