// Package policy evaluates Rego policies over parsed plans before they are
// stored as pending patches.
//
// Each policy is a Rego package. Results of its deny rules become violations
// at the policy's severity; error and critical violations reject the plan.
// Results of its warn rules are always warnings and are shown with the plan
// summary. A rule result is either a message string or an object:
//
//	package graphpatch.custom.no_nsfw
//
//	import rego.v1
//
//	deny contains violation if {
//	    some a in input.actions
//	    a.handler == "channel.nsfw"
//	    violation := {"message": "nsfw toggles need a moderator", "line": a.line}
//	}
//
// The input document holds the target, the actor, the actions in script
// order (line, verb, type, handler, args, destructive), per-handler counts
// and the configured limits.
//
// # Built-in Policies
//
//  1. bulk-delete - rejects plans with more destructive actions than limits.max_destructive
//  2. empty-name - warns about create and rename actions without a name
//  3. use-after-delete - warns about actions on entities deleted earlier in the plan
//
// # Custom Policies
//
// LoadPolicies reads .rego and .json files from files or directories. A load
// either compiles completely or leaves the current set in place. Watch keeps
// the set in sync with the files on disk.
package policy
