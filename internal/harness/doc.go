// Package harness runs end-to-end scenarios: client operations executed
// through a real orm.Client against an in-process emulator.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: post_lifecycle
//	description: "What this scenario validates"
//	models: |
//	  model: Post: {
//	      fields: {title: "string", author: "string"}
//	      validates: presence: ["title"]
//	  }
//	setup:
//	  - {op: new, class: Post, as: seed, fields: {title: Seed}}
//	  - {op: save, record: seed}
//	steps:
//	  - {op: new, class: Post, as: post}
//	  - op: valid
//	    record: post
//	    expect: {valid: false, errors: {title: ["can't be blank"]}}
//	  - {op: set, record: post, fields: {title: Hello}}
//	  - {op: save, record: post, expect: {has_id: true, state: persisted}}
//	assertions:
//	  - {type: request_count, method: POST, path: /classes/Post, count: 2}
//	  - type: final_state
//	    class: Post
//	    where: {title: Hello}
//	    expect: {objectId: obj0002}
//
// Records are named with "as" and referred to with "record", "records",
// "id_of" and "session". Query results are named "<as>.0", "<as>.1", ...
//
// # Assertion Types
//
//   - request_contains: a request with the method, path, query parameters
//     and body subset was sent
//   - request_order: "METHOD path" requests were sent in the given order
//   - request_count: exactly N requests to the method and path were sent
//   - final_state: the emulator's objects of a class match expectations
//
// # Deterministic Testing
//
// Each scenario runs against a fresh in-memory emulator with a
// deterministic clock (testutil.DeterministicClock) and sequential object
// ids and session tokens, so traces are identical across runs and can be
// compared with golden files (see RunWithGolden).
package harness
