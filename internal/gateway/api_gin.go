package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/DimaMzk/AnotherGlass/internal/config"
	"github.com/DimaMzk/AnotherGlass/internal/source"
)

const apiPrefix = "/api"

type appBody struct {
	Package string `json:"package"`
}

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if !s.authenticate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.GET("/status", s.ginAPIStatus)
	api.GET("/messaging/apps", s.ginAPIListApps)
	api.POST("/messaging/apps", s.ginAPIAddApp)
	api.DELETE("/messaging/apps/:package", s.ginAPIRemoveApp)
}

func (s *Server) ginAPIStatus(c *gin.Context) {
	out := gin.H{
		"status":      "ok",
		"connections": s.Conns.List(),
	}
	if s.Music != nil {
		out["music"] = s.Music.Status()
	}
	if s.Launcher != nil {
		var instances []config.SourceInstanceConfig
		if cfg := config.Get(); cfg != nil {
			instances = cfg.Sources.Instances
		}
		out["sources"] = s.Launcher.List(instances)
	} else {
		out["sources"] = []source.InstanceStatus{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ginAPIListApps(c *gin.Context) {
	apps := config.EnabledSources()
	if apps == nil {
		apps = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func (s *Server) ginAPIAddApp(c *gin.Context) {
	var body appBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(body.Package) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "package required"})
		return
	}
	changed, err := config.AddMessagingApp(s.ConfigPath, body.Package)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "apps": config.EnabledSources()})
}

func (s *Server) ginAPIRemoveApp(c *gin.Context) {
	changed, err := config.RemoveMessagingApp(s.ConfigPath, c.Param("package"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !changed {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "app not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": true, "apps": config.EnabledSources()})
}
