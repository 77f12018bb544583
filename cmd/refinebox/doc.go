// Package main implements the refinebox command line.
//
// The root command loads configuration once per invocation through
// commandContext and exposes the batch run, the consistency report, the
// single-file annotation tools, bulk conversion, preflight checks, and run
// history as subcommands.
package main
