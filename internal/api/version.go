// Package api exposes the sync worker's HTTP control surface
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIVersion carries the negotiated API version in both directions
	HeaderAPIVersion = "X-API-Version"
	// DefaultAPIVersion is served when the client does not ask for one
	DefaultAPIVersion = "1.0"

	versionKey = "api_version"
)

// VersionMiddleware stamps responses with version and rejects requests
// asking for a version outside supported
func VersionMiddleware(version string, supported []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)

		requested := c.GetHeader(HeaderAPIVersion)
		if requested == "" {
			c.Set(versionKey, version)
			c.Next()
			return
		}
		if !isVersionSupported(requested, supported) {
			c.AbortWithStatusJSON(http.StatusNotAcceptable, gin.H{
				"error":              "unsupported_api_version",
				"supported_versions": supported,
			})
			return
		}
		c.Set(versionKey, requested)
		c.Next()
	}
}

// "1" matches "1.0"
func isVersionSupported(version string, supported []string) bool {
	for _, v := range supported {
		if v == version || strings.HasPrefix(v, version+".") {
			return true
		}
	}
	return false
}

// Version returns the negotiated API version of the request
func Version(c *gin.Context) string {
	if v, ok := c.Get(versionKey); ok {
		if version, ok := v.(string); ok {
			return version
		}
	}
	return DefaultAPIVersion
}
