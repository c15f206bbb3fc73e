// -- cmd/version.go --
package cmd

// Version is overridden at build time via -ldflags.
var Version = "0.1.0-dev"
