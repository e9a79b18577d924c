package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are the liveness and store health probes used by load
// balancers. Every /api route, including the audit trail, needs a token.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper is the JWTConfig.Skipper for the server. It matches the route
// pattern and, for unmatched requests, the raw path.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()] || publicPaths[c.Request().URL.Path]
}

// IsPublicPath reports whether path is served without authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
