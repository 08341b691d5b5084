// Package bridge is the construction boundary between a control surface
// and the bot engine.
//
// Instances are addressed by typed handles into a table owned by the
// Bridge. Completion handlers and notification sinks receive plain
// strings: an empty string for success, "<Kind>: <message>" for failure,
// and "err|category|payload" for notifications. An unknown handle is
// reported as a LifecycleViolation, never a crash.
package bridge
