// Package logger wraps zap for the publisher:
//   - a global sugared logger with a plain console encoder suitable for CI logs,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - LineWriter, an io.Writer that turns subprocess output into log lines.
//
// Every component receives a context and extracts the logger from it, so the
// run id and artifact index follow each message.
package logger
