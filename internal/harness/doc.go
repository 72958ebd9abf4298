// Package harness runs proximity alert scenarios against the real alert
// store and evaluation engine.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	self: { lat: 48.1486, lon: 17.1077 }
//	alerts:
//	  - id: alice-near
//	    target: phone-alice
//	    name: Alice
//	    threshold: 100
//	    direction: enter
//	    cooldown: 0
//	steps:
//	  - at: 0s
//	    peers:
//	      - device: phone-alice
//	        distance: 150
//	    expect:
//	      fired: []
//	      states: { alice-near: FAR }
//	assertions:
//	  - type: fired_count
//	    alert: alice-near
//	    count: 1
//
// A peer is placed either `distance` meters due north of self or at an
// explicit `lat`/`lon`. A peer listed with `missing: true` is known but
// has no location.
//
// # Assertion Types
//
//   - fired_count: the alert fired exactly count times
//   - fired_at: the alert fired at exactly the listed step indexes
//   - final_state: the alert's stored state (and optionally whether it was
//     ever triggered) after the last step
//   - notification_contains: some notification for the alert has a title
//     or body containing text
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite store. Step times are
// offsets from a fixed start, so traces are identical across runs and can
// be compared against golden files.
package harness
