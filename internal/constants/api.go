package constants

// Device control API endpoints.
const (
	PathInfoAbout = "/api/info/about"
	PathSettings  = "/api/settings"
	PathReboot    = "/api/controls/reboot"
	PathFirmware  = "/api/firmware"
)

// Flat dotted settings keys accepted by PUT /api/settings.
const (
	KeyIPv4Mode        = "nm.ipv4.mode"
	KeyIPv4Address     = "nm.ipv4.address"
	KeyIPv4Netmask     = "nm.ipv4.netmask"
	KeyIPv4Gateway     = "nm.ipv4.gateway"
	KeyProvServerURL   = "prov.server.url"
	KeyAdminTimezone   = "admin.timezone"
	KeyConfigBlob      = "config"
	IPv4ModeStatic     = "static"
	InfoKeyProductName = "Product Name"
	InfoKeyFirmware    = "Firmware Version"
)

// RejectionStatusNetwork is recorded in the rejection log when an attempt
// failed before any HTTP status was received.
const RejectionStatusNetwork = "NETWORK"
