package version

// Version is the current version of callguard. Release builds override it
// with -ldflags "-X callguard/pkg/version.Version=...".
var Version = "0.1.0"

// UserAgent returns the User-Agent string for outbound HTTP requests
func UserAgent() string {
	return "callguard/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "callguard/" + Version
}
