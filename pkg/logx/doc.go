// Package logx configures sflnotify's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, so delivery traces can be grepped later
//   - Level and sinks swappable at runtime when the config file changes
package logx
