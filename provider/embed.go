// Package provider loads threats libraries, threat models and mitigations
// from YAML or JSON documents and validates them before the engine sees them.
package provider

import (
	"embed"
	"io/fs"
)

// DefaultThreatsLibrary is the library used when none is configured.
const DefaultThreatsLibrary = "classpath:/threats-library/default-threats-library.yml"

//go:embed classpath
var classpathFS embed.FS

//go:embed schemas/*.json
var schemaFS embed.FS

// Classpath returns the embedded resources that classpath: locations resolve against.
func Classpath() fs.FS {
	sub, err := fs.Sub(classpathFS, "classpath")
	if err != nil {
		// fs.Sub only fails on an invalid directory name
		panic(err)
	}
	return sub
}
