package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds daemon startup flags.
type ServeFlags struct {
	WorkspaceRoot string
	Listen        string
}

// APIFlags holds remote daemon connection flags common to client commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Dashboard  string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	APIFlags
	Module string
	Target string
	All    bool
	Failed bool
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIFlags
	Watch    bool
	Interval time.Duration
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	APIFlags
	Clear bool
}

// ConfigureFlags holds flags for the configure command.
type ConfigureFlags struct {
	APIFlags
	Module      string
	Reconfigure bool
	All         bool
}
