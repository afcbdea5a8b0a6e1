// Package logx wraps zerolog behind a small, swappable logging facade.
//
// It provides:
//   - a value-type Logger whose output/level can be reconfigured at runtime
//     without invalidating derived loggers
//   - structured Field helpers (String, Int64, Err, ...)
//   - console, file, and (optional, rate-limited) Telegram sinks
package logx
