package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// String is the banner printed by the binaries.
func String(binary string) string {
	return binary + " " + Build
}
