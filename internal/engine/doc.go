// Package engine implements the bot Engine Instance: one automation
// session bound to one account, package and server.
//
// LIFECYCLE:
//
//	Created -> Loading -> Active -> ShuttingDown -> Terminated
//
// Load parses the configuration, logs in and replays the configuration as
// commands before the instance becomes Active. A failed load returns the
// instance to Created so the caller may retry. Shutdown is idempotent.
//
// THREADING:
//
// All asynchronous work (login completion, module runs, timers and
// finalization) executes on the shared eventloop.Loop. Load, Execute and
// Shutdown are called from other goroutines and never block on the loop.
// Calls against one instance are serialized by the instance; a command's
// parse-resolve-apply sequence never interleaves with another command.
//
// Every observable change is published to the instance's notify.Channel:
//
//	|state|Active
//	|status|train_active=1
//	|log|[INFO ][18.10 12:00:00][du_example.org_alice][train] done
//	InvalidValue: ...|command|base_set_wait_time_factor
//	EngineFault: ...|fault|run_train
package engine
