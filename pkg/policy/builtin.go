package policy

import (
	"fmt"
)

// Built-in policy names.
const (
	BuiltinActionNaming  = "action-naming"
	BuiltinChangeFreeze  = "change-freeze"
	BuiltinRequiredFacts = "required-facts"
)

// BuiltinPolicies returns the built-in policies rendered for pkg. They are
// disabled until enabled by name.
func BuiltinPolicies(pkg string) []Policy {
	return []Policy{
		actionNamingPolicy(pkg),
		changeFreezePolicy(pkg),
		requiredFactsPolicy(pkg),
	}
}

// actionNamingPolicy warns about action names that are not kebab-case.
func actionNamingPolicy(pkg string) Policy {
	return Policy{
		Name:        BuiltinActionNaming,
		Description: "Action names are lowercase letters, digits and hyphens",
		Severity:    SeverityWarning,
		Tags:        []string{"naming", "conventions"},
		Rego: fmt.Sprintf(`package %s

import rego.v1

deny contains violation if {
	not regex.match("^[a-z0-9][a-z0-9-]*$", input.action.name)
	violation := {
		"message": sprintf("action name '%%s' must be lowercase kebab-case", [input.action.name]),
		"severity": "warning",
	}
}
`, pkg),
	}
}

// changeFreezePolicy blocks every action on hosts whose vars set
// change_freeze to true. Read-only probes named probe-* are allowed.
func changeFreezePolicy(pkg string) Policy {
	return Policy{
		Name:        BuiltinChangeFreeze,
		Description: "No changes on hosts in a change freeze",
		Severity:    SeverityError,
		Tags:        []string{"safety"},
		Rego: fmt.Sprintf(`package %s

import rego.v1

deny contains msg if {
	input.vars.change_freeze == true
	not startswith(input.action.name, "probe-")
	msg := sprintf("host %%s is in a change freeze", [input.host])
}
`, pkg),
	}
}

// requiredFactsPolicy blocks actions listed in vars.requires until the heap
// holds the facts they depend on.
//
//	vars:
//	  requires:
//	    make-release-dir: [disk_ok]
func requiredFactsPolicy(pkg string) Policy {
	return Policy{
		Name:        BuiltinRequiredFacts,
		Description: "Actions run only once the facts they require are on the heap",
		Severity:    SeverityError,
		Tags:        []string{"ordering"},
		Rego: fmt.Sprintf(`package %s

import rego.v1

deny contains msg if {
	some fact in input.vars.requires[input.action.name]
	not fact in object.keys(input.heap)
	msg := sprintf("action %%s requires fact %%s", [input.action.name, fact])
}
`, pkg),
	}
}
