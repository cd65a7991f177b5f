// Package registry loads the operation map that binds script verbs and
// resource types to handlers.
//
// The map is a line-oriented text file:
//
//	# comment
//	rename:channel = channel.rename:id,name
//	rename:*       = resource.rename:id,name
//	delete:channel = channel.delete:id [destructive]
//
// Lookups try the exact verb:type key first and then the verb:* wildcard
// for the same verb. A Registry holds the active Table behind an atomic
// pointer so that reloads swap the whole table at once and readers never
// observe a partially loaded map.
package registry
