package config

import "time"

const (
	// The default timeout for control calls (session creation, property queries).
	DefaultCallTimeout = 4 * time.Minute

	// The default timeout for data calls (message push, phonebook pull).
	DefaultDataCallTimeout = 40 * time.Minute

	// The default interval between two transfer status queries.
	DefaultPollInterval = 100 * time.Millisecond

	// The default time to wait for a transfer to leave its pending state.
	DefaultTransferTimeout = 5 * time.Minute

	// The default path to the service discovery tool.
	DefaultSdptoolPath = "/usr/bin/sdptool"
)

// Configuration describes a general configuration.
type Configuration struct {
	// SdptoolPath holds the path to the service discovery executable.
	SdptoolPath string

	// CallTimeout holds the timeout for control method calls.
	CallTimeout time.Duration

	// DataCallTimeout holds the timeout for method calls which move data.
	DataCallTimeout time.Duration

	// PollInterval holds the interval between transfer status queries.
	PollInterval time.Duration

	// TransferTimeout bounds the time spent waiting for a transfer to complete.
	TransferTimeout time.Duration

	// PhonebookLocation and Phonebook select the phonebook to pull,
	// "int" and "pb" (internal memory, main phonebook) by default.
	PhonebookLocation string
	Phonebook         string

	// OutboxFolder holds the folder which messages are pushed to.
	OutboxFolder string

	// TempDir holds the directory where message files are written.
	// The system default is used when empty.
	TempDir string
}

// New returns a new configuration with the default values.
func New() Configuration {
	return Configuration{
		SdptoolPath:       DefaultSdptoolPath,
		CallTimeout:       DefaultCallTimeout,
		DataCallTimeout:   DefaultDataCallTimeout,
		PollInterval:      DefaultPollInterval,
		TransferTimeout:   DefaultTransferTimeout,
		PhonebookLocation: "int",
		Phonebook:         "pb",
		OutboxFolder:      "/telecom/msg/outbox",
	}
}

// WithDefaults fills the unset fields of the configuration with default values.
func (c Configuration) WithDefaults() Configuration {
	d := New()

	if c.SdptoolPath == "" {
		c.SdptoolPath = d.SdptoolPath
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.DataCallTimeout <= 0 {
		c.DataCallTimeout = d.DataCallTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = d.TransferTimeout
	}
	if c.PhonebookLocation == "" {
		c.PhonebookLocation = d.PhonebookLocation
	}
	if c.Phonebook == "" {
		c.Phonebook = d.Phonebook
	}
	if c.OutboxFolder == "" {
		c.OutboxFolder = d.OutboxFolder
	}

	return c
}
