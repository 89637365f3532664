package server

const (
	red        = "\033[31m"
	green      = "\033[32m"
	blue       = "\033[34m"
	gray       = "\033[90m" // bright black
	resetColor = "\033[0m"
)

// methodColors covers the methods initRoutes registers.
var methodColors = map[string]string{
	"GET":     green,
	"POST":    blue,
	"OPTIONS": red,
}
