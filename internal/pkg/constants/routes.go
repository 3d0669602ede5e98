package constants

// Static route constants
const (
	APIRoute   = "/api"
	APIV1Route = "/api/v1"
	AdminRoute = "/admin"
	DocsRoute  = "/docs/api/"
	// Callback path relative to APIV1Route; companies register it with their provider
	CallbackPathFormat = "/companies/%d/callbacks"
)
