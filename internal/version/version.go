// ABOUTME: Version and product identification
// ABOUTME: Used in User-Agent headers, mDNS TXT records and logs
package version

const (
	Version      = "0.3.0"
	Product      = "Sonar"
	Manufacturer = "Sonar Project"
)

// UserAgent identifies this program in HTTP requests
func UserAgent() string {
	return Product + "/" + Version
}
