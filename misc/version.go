// Package misc keeps build time program information.
package misc

// Values are overwritten at build time via ldflags.
var (
	appName = "repage"
	version = "development"
	gitHash = "unknown"
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
