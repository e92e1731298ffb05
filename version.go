package whiskers

import "fmt"

// driverVersion is reported to the server in the prelogin and LOGIN7
// packets.
const driverVersion = "v0.4.0"

var driverVersionCode = getDriverVersion(driverVersion)

func getDriverVersion(ver string) uint32 {
	var majorVersion uint32
	var minorVersion uint32
	var rev uint32
	_, _ = fmt.Sscanf(ver, "v%d.%d.%d", &majorVersion, &minorVersion, &rev)
	return (majorVersion << 24) | (minorVersion << 16) | rev
}
