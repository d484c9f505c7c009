package constants

import "time"

const (
	AppName            = "habitgarden"
	DefaultKeyringUser = "remote-connection"
	DefaultConfigDir   = "~/.config/habitgarden"
	DefaultConfigFile  = "config.yaml"
	Version            = "v0.3.0"

	// DateFormat is the canonical calendar day format (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// EnvRemoteDSN overrides the remote connection string when set
	EnvRemoteDSN = "HABITGARDEN_REMOTE_DSN"
)

const (
	// CacheSchemaVersion is bumped whenever the persisted envelope layout changes.
	// Envelopes written with any other version are discarded and rebuilt from the remote store.
	CacheSchemaVersion = 2

	// EnvelopeKey is the substrate key holding the serialized cache envelope
	EnvelopeKey = "habitgarden.envelope"

	// MaxRetries bounds how many times a queued operation is attempted before it is abandoned
	MaxRetries = 3

	DefaultReconcileInterval = 30 * time.Second
	DefaultDrainInterval     = 15 * time.Second
	DefaultProbeInterval     = 10 * time.Second
	DefaultRemoteTimeout     = 10 * time.Second
)

const (
	DefaultFrequency = "daily"
	DefaultPlant     = "fern"
	MaxTitleLength   = 120
)
