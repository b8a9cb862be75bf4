// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import "log/slog"

// ConnectionLogger returns a child logger scoped to one ConnectionHandle:
// every record it emits carries a "connection" attribute naming the handle
// id, the same way the teacher's NewSessionLogger scopes a session's log
// lines to a dedicated file. This system has no per-connection log file
// (spec.md's Non-goals rule out persistence of any kind), so the adaptation
// here is an slog.Logger.With child rather than a second handler/file: the
// fan-out-to-file machinery in session_logger.go has nothing to fan out to,
// but the "every unit of work gets its own tagged logger" shape carries
// over directly.
func ConnectionLogger(base *slog.Logger, connectionID string) *slog.Logger {
	return base.With("connection", connectionID)
}
