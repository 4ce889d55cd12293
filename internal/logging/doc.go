// Package logging provides a small leveled logger for cleanconvert.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// Components take a *Logger in their config. The package-level functions
// write through Default(), whose level is set by the DEBUG or LOG_LEVEL
// environment variables.
package logging
