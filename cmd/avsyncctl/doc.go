// Package main hosts the avsyncctl CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's API: session submission, status and audit
// queries, result download, event streaming, and configuration scaffolding.
// It centralizes configuration resolution and API endpoint discovery so
// subcommands can focus on presentation.
package main
