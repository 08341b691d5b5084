// Package testutil provides deterministic collaborators for tests: a
// stepping clock, a fixed session generator, a scripted authenticator and
// a recording notification sink.
package testutil
