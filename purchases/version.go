package purchases

// Version is the SDK release version reported to the backend and to the
// embedding application.
const Version = "0.9.0"

// FrameworkVersion returns the SDK version string.
func FrameworkVersion() string {
	return Version
}
