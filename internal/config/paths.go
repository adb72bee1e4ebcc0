package config

import "path/filepath"

// Directories below the home directory (ANOTHERGLASS_HOME or ~/.anotherglass).
// They are fixed so a home can be moved or backed up as a unit.

// Home returns the root directory (ResolveHome()).
func Home() string {
	return ResolveHome()
}

// LogsDir returns home/logs.
func LogsDir() string {
	return filepath.Join(Home(), "logs")
}

// SourcesDir returns home/sources, where source helper directories live by default.
func SourcesDir() string {
	return filepath.Join(Home(), "sources")
}
