// Package pkg provides shared utilities for the mscfs stack.
//
// This package contains common functionality used by the USB host stack,
// the mass storage driver, the block I/O shim and the shell, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB and storage errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDisk, "drive mapped", "pdrv", 0, "addr", 1)
//
// # Errors
//
// Common errors are defined as sentinel values and wrapped with context:
//
//	if errors.Is(err, pkg.ErrNoDevice) {
//	    // Device detached while the command was pending
//	}
package pkg
