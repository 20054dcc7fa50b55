package client

import "github.com/notruri/pahe/internal/types"

// Logger is an optional package logger for non-fatal warnings and debug
// traces.
type Logger = types.Logger
