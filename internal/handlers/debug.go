package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterDebugRoutes wires debug-only endpoints. Each snapshot is served as
// GET /debug/<name>.
func RegisterDebugRoutes(router gin.IRouter, enabled bool, snapshots map[string]func() any) {
	if !enabled {
		return
	}

	for name, snapshot := range snapshots {
		snapshot := snapshot
		router.GET("/debug/"+name, func(c *gin.Context) {
			c.JSON(http.StatusOK, snapshot())
		})
	}
}
