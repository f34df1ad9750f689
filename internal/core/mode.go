// Package core is the orchestration layer.  It binds listeners, builds
// the reactor and runs it, and provides a builder that turns a Config
// into a runnable Mode.
//
// Architecture layers (bottom → top):
//
//	protocol, session, registry  →  chat  →  transport, reactor  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of chatd.  It owns its full
// lifecycle from binding to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
