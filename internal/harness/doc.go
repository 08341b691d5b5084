// Package harness runs bot scenarios: a configuration, a sequence of
// lifecycle steps and assertions over the notifications the bot emitted.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	packages: packages            # optional package root
//	login: ["wrong password", ""] # optional scripted login results
//	config: |
//	  {"username":"a","password":"b","package":"p","server":"s","modules":{}}
//	steps:
//	  - load: true
//	    expect: ""
//	  - execute: base_set_wait_time_factor
//	    argument: "2.0"
//	  - execute: ghost_set_active
//	    argument: "1"
//	    expect: "UnknownModule: "
//	  - wait_for: "|state|Active"
//	  - shutdown: true
//	assertions:
//	  - type: notification_contains
//	    message: "|status|base_wait_time_factor=2.0"
//	  - type: final_state
//	    module: base
//	    key: wait_time_factor
//	    value: "2.0"
//
// # Assertion Types
//
//   - notification_contains: a notification matches message, or category and contains
//   - notification_order: messages appear in the given order
//   - notification_count: matching notifications appear exactly count times
//   - final_state: a configuration value after the last step
//   - final_status: the lifecycle state after the last step
//   - log_contains: a line of the bot's log ring contains a substring
//
// # Deterministic Testing
//
// The harness uses a stepping clock (one second per reading), a fixed
// session token, zero random waits and hour-long wait units, so traces are
// identical across runs for golden file comparison. Log notifications are
// left out of golden snapshots.
package harness
