// ABOUTME: Build identification reported to servers and printed by the CLIs
// ABOUTME: Version is overridden at link time with -ldflags "-X ...version.Version=..."
package version

// Version is the release version, "dev" for local builds
var Version = "dev"

const (
	// Product is reported in speech.config client info
	Product = "speechlink-go"

	// Manufacturer is reported in speech.config client info
	Manufacturer = "speechlink"
)

// String returns the product and version for banners
func String() string {
	return Product + " " + Version
}
