package types

// Version is the canonical project version.
const Version = "0.3.0"

// UserAgent is sent on every outbound stream and fetch request unless the
// config overrides it.
const UserAgent = "livewatch/" + Version
