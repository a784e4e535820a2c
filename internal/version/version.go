package version

// Set via ldflags at build time.
var (
	PackageName = "modelswitchd"
	Version     = "undefined"
	CommitHash  = "undefined"
	BuildDate   = "undefined"
)
