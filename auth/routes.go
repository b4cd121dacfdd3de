package auth

// Backend routes consumed by the client
const (
	RouteRegister = "/api/auth/register"
	RouteLogin    = "/api/auth/login"
	RouteRefresh  = "/api/auth/refresh"
	RouteLogout   = "/api/auth/logout"
	RouteMe       = "/api/auth/me"
	RouteProfile  = "/api/users/profile"
)
