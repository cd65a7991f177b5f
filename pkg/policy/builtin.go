package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		bulkDeletePolicy(),
		emptyNamePolicy(),
		deletedTargetPolicy(),
	}
}

// bulkDeletePolicy limits how many destructive actions one plan may hold.
func bulkDeletePolicy() Policy {
	return Policy{
		Name:        "bulk-delete",
		Description: "Rejects plans with more destructive actions than input.limits.max_destructive",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package graphpatch.builtin.bulk_delete

import rego.v1

destructive := [a | some a in input.actions; a.destructive]

deny contains violation if {
	input.limits.max_destructive > 0
	count(destructive) > input.limits.max_destructive
	violation := {
		"message": sprintf("plan has %d destructive actions, the limit is %d", [count(destructive), input.limits.max_destructive]),
	}
}
`,
	}
}

// emptyNamePolicy warns about renames and creates that would leave a blank
// name. The graph provider has the final say on whether a blank name is valid.
func emptyNamePolicy() Policy {
	return Policy{
		Name:        "empty-name",
		Description: "Warns about create and rename actions without a name",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package graphpatch.builtin.empty_name

import rego.v1

named_handlers := {
	"category.create",
	"channel.create",
	"channel.rename",
	"role.create",
	"role.rename",
	"resource.rename",
}

warn contains violation if {
	some a in input.actions
	named_handlers[a.handler]
	trim_space(object.get(a.args, "name", "")) == ""
	violation := {
		"message": sprintf("%s needs a non-empty name", [a.handler]),
		"line": a.line,
	}
}
`,
	}
}

// deletedTargetPolicy warns about actions on an entity deleted earlier in
// the same plan. Such actions will fail at apply time.
func deletedTargetPolicy() Policy {
	return Policy{
		Name:        "use-after-delete",
		Description: "Warns about actions that reference an entity deleted earlier in the plan",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package graphpatch.builtin.use_after_delete

import rego.v1

warn contains violation if {
	some i, j
	deleted := input.actions[i]
	deleted.destructive
	later := input.actions[j]
	j > i
	id := deleted.args.id
	id != ""
	some key in ["id", "channel", "parent", "target"]
	object.get(later.args, key, "") == id
	violation := {
		"message": sprintf("%s refers to %s, which line %d deletes", [later.handler, id, deleted.line]),
		"line": later.line,
	}
}
`,
	}
}
