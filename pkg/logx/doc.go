// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger (usually derived with With(String("comp", ...)))
// and never touch zerolog directly. The Service owns the sinks and can swap
// level/outputs at runtime via Apply, which keeps loggers created from it
// "live" across config reloads.
package logx
