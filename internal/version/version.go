package version

// Build metadata, injected with -ldflags "-X exrate-watch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
