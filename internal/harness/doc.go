// Package harness runs page scenarios: it loads a fixture into a browser
// page, injects a deterministic stub for the AI provider module, loads the
// scripts under test in declared order, drives interactions and checks
// scenario-local predicates over what the page returned.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: triage
//	description: "Labels a row by href and by thread id"
//	fixture: tests/headless/triage_harness.html
//	fragment: inbox
//	anchors:
//	  - '[role="row"][data-thread-id="thread-f:123"]'
//	stub: none
//	scripts:
//	  - path: triage.js
//	    provides: ReskinTriage
//	steps:
//	  - action: call
//	    global: ReskinTriage
//	    function: applyLabelToMessage
//	    args: [{threadId: "f:123", href: "", row: null}, critical]
//	    capture: RESULT
//	    collect:
//	      - field: marker
//	        expr: document.querySelector(".label-marker")?.getAttribute("aria-label") ?? ""
//	assertions:
//	  - type: equals_fold
//	    result: RESULT
//	    field: marker
//	    value: triage/critical
//
// # Step Actions
//
//   - wait: wait for a selector, bounded by timeout (default 10s)
//   - fill: set an input's value
//   - click: click a control
//   - settle: sleep for a fixed duration
//   - wait_text: poll until a node has non-empty text, optionally containing value
//   - text: capture a node's trimmed text
//   - call: invoke window[global][function](...args) with a guarded existence check
//   - evaluate: run an expression, optionally capturing its value
//
// # Assertion Types
//
//   - contains / not_contains: substring checks
//   - equals: exact string comparison
//   - equals_fold: comparison under Unicode case folding
//   - truthy: JavaScript truthiness
//
// # Failures
//
// A launch failure (browser.LaunchError), an expired wait (TimeoutError), an
// absent global (MissingCapabilityError) or any other step error aborts the
// scenario; the session is still released. Assertion failures are collected
// and all reported.
package harness
