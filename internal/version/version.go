package version

// Version is the current version of the airsetu CLI.
// Release builds override it with:
//
//	go build -ldflags="-X 'github.com/Nitishvarma50/app-p2p/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent is sent on signaling and configuration requests.
func UserAgent() string {
	return "airsetu/" + Version
}
