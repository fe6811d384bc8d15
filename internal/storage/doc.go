// Package storage keeps the admin audit log: every kill-switch toggle and
// broadcast is appended with its actor and outcome.
//
// Two drivers exist: "file" (JSON Lines) and "sqlite" (modernc.org/sqlite,
// no cgo). Deal state lives in Redis, never here.
package storage
