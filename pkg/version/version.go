package version

// Version is the current release of the service.
const Version = "v0.4.2"
