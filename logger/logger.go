// Package logger provides adapters for popular logging libraries to work
// with grove's Logger interface.
//
// The adapters allow you to use your existing logger with grove without
// writing boilerplate. Note that the standard library's slog.Logger
// already implements grove.Logger directly.
//
// Example with zap:
//
//	import (
//	    "github.com/grovedb/grove"
//	    "github.com/grovedb/grove/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    t, err := grove.Open("data.grove",
//	        grove.WithLogger(logger.NewZap(zapLogger)),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer t.Close()
//	}
package logger
