// Command x509path builds and validates X.509 certification paths.
//
// Usage:
//
//	x509path <command> [options] <args>
//
// Commands:
//
//	validate     Build paths to a certificate and validate them
//	build        List every certification path to a certificate
//	validate-ac  Validate an attribute certificate
//	batch        Validate many certificates concurrently
//	store        Manage the certificate store
//	version      Show version information
//
// Examples:
//
//	# Validate a server certificate
//	x509path validate server.pem --anchors root.pem --intermediates ca.pem
//
//	# Validate with a profile and JSON output
//	x509path validate --config profile.yaml --json server.pem
package main

import (
	"os"

	"github.com/georgepadayatti/x509path/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/x509path
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
