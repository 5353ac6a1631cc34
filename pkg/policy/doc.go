// Package policy gates actions with Open Policy Agent (Rego) policies.
//
// Before a guarded action executes, every enabled policy of the engine
// package is queried for data.<package>.deny with this input:
//
//	{
//	  "action": {"name": "make-release-dir"},
//	  "heap":   {"disk_ok": true},
//	  "host":   "web1",
//	  "vars":   {"release": 7}
//	}
//
// A deny entry is a message string or an object with message and severity.
// Entries of severity error or critical fail the action with a
// *ViolationError; the others are logged as warnings.
//
// A minimal policy:
//
//	package yodler.deploy
//
//	import rego.v1
//
//	deny contains msg if {
//		input.host == "db1"
//		startswith(input.action.name, "drop-")
//		msg := "no drop actions on db1"
//	}
//
// Policies come from .rego files, JSON bundles and inline modules added
// with AddPolicy. Modules in other packages are libraries that queried
// policies can import.
//
// # Built-in Policies
//
//   - action-naming: warns about action names that are not kebab-case
//   - change-freeze: blocks actions when vars.change_freeze is true
//   - required-facts: blocks actions until the facts listed for them in
//     vars.requires are on the heap
//
// Built-ins are loaded disabled; enable them with WithBuiltins or
// EnablePolicy.
package policy
