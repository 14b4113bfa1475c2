// Package harness runs YAML scenarios against the real bridge.
//
// A scenario drives the host hooks (register, new_engine, update, render,
// free, unregister) through host.Plugin, whose sessions call a
// backend.Recorder wrapping the backend.Reference renderer. Every call and
// every session transition lands in an in-memory store, so scenarios assert
// on both the call trace and the final session states.
//
// # Scenario Format
//
//	name: final_render
//	description: "Create, render, reset, render, free"
//	context:                 # optional; all three dirs exist by default
//	  missing: [install]     # install, resources, user_config
//	  not_dir: [resources]
//	  headless: true
//	scene: { width: 32, height: 24, lights: 1 }
//	settings: { samples_per_pixel: 4 }
//	fail: { create: "out of memory" }
//	flow:
//	  - invoke: register
//	  - invoke: new_engine
//	    args: { engine: final }
//	  - invoke: update
//	    args: { engine: final, preview: false, viewport: { width: 40, height: 30 } }
//	  - invoke: render
//	    args: { engine: final }
//	    expect: { case: ok }
//	  - invoke: update       # switch to a second scene and its graph
//	    args: { engine: final, scene: Scene2, depsgraph: Depsgraph2 }
//	  - invoke: fail
//	    args: { op: render, error: "device lost" }
//	assertions:
//	  - type: trace_order
//	    ops: [init, create, render]
//	  - type: trace_contains
//	    op: create
//	    args: { scene_data: Scene, config: { samples_per_pixel: 4 } }
//	  - type: final_state
//	    table: sessions
//	    where: { owner: final }
//	    expect: { state: Synced }
//
// Expect cases are "ok", a session or init error code (NOT_SYNCED,
// USE_AFTER_FREE, SESSION_BUSY, ...), "UNAVAILABLE" for new_engine on an
// unregistered plugin, or "error".
//
// # Assertion Types
//
//   - trace_contains: a call with the op, matching args (subset) and outcome
//   - trace_order: ops appear in the given order, gaps allowed
//   - trace_count: an op appears exactly N times
//   - final_state: one row of a store table has the expected values
//
// Trace assertions take an optional session id to look at one session only.
//
// # Deterministic Testing
//
// The harness uses:
//   - Sequential session ids (session-1, session-2, ...)
//   - Deterministic logical clock shared by steps, calls and transitions
//   - Host objects labeled by name in call args
//   - In-memory SQLite database (isolated per run)
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/final_render.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
