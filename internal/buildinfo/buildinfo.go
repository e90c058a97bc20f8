// Package buildinfo provides build version and metadata information.
package buildinfo

import "encoding/json"

// Version metadata is injected at build time via ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Summary returns a human-readable version summary string.
func Summary() string {
	version := Version
	if version == "" {
		version = "dev"
	}
	switch {
	case Commit != "" && Date != "":
		return version + " (" + Commit + " " + Date + ")"
	case Commit != "":
		return version + " (" + Commit + ")"
	case Date != "":
		return version + " (" + Date + ")"
	}
	return version
}

// Status is the payload served by the ping endpoint while the instance is in rotation.
type Status struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
}

// StatusJSON renders the ping payload.
func StatusJSON() []byte {
	version := Version
	if version == "" {
		version = "dev"
	}
	raw, err := json.Marshal(Status{Status: "ok", Version: version, Revision: Commit})
	if err != nil {
		return []byte(`{"status":"ok"}`)
	}
	return raw
}
