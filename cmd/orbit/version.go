package main

// Version identifies the gateway build. Overridden at build time via
// -ldflags "-X main.Version=... -X main.GitCommit=...".
var (
	Version   = "development"
	GitCommit = "unknown"
)
