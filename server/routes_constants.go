package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteRegister = "/api/auth/register"
	RouteLogin    = "/api/auth/login"
	RouteRefresh  = "/api/auth/refresh"
	RouteLogout   = "/api/auth/logout"
	RouteMe       = "/api/auth/me"

	// User Routes
	RouteProfile = "/api/users/profile"

	// Preflight for every API route
	RouteAPIPrefix = "/api/"

	RouteHealth = "/healthz"
)
