package catalog

import "strings"

// Class groups action verbs by how much damage they can do.
type Class string

const (
	ClassRead   Class = "read"
	ClassWrite  Class = "write"
	ClassDelete Class = "delete"
	ClassAdmin  Class = "admin"
)

// Stems are matched as substrings of the lower-cased verb, destructive first,
// so "force-delete" or "removeall" never fall through to a weaker class.
var (
	deleteStems = []string{"delete", "remove", "destroy", "drop", "purge", "erase", "wipe", "revert", "rm", "del", "kill", "terminate"}
	writeStems  = []string{"create", "add", "new", "resize", "update", "set", "modify", "patch", "scale", "grow", "shrink", "restore", "clone", "rename", "enable", "disable"}
	readStems   = []string{"list", "show", "get", "describe", "status", "view", "help", "info", "ls"}
)

// ClassifyVerb maps an action verb onto a permission class. Verbs that match
// nothing land in ClassAdmin, the most conservative class.
func ClassifyVerb(action string) Class {
	v := strings.ToLower(strings.TrimSpace(action))
	if v == "" {
		return ClassAdmin
	}
	for _, s := range deleteStems {
		if strings.Contains(v, s) {
			return ClassDelete
		}
	}
	for _, s := range writeStems {
		if strings.Contains(v, s) {
			return ClassWrite
		}
	}
	for _, s := range readStems {
		if v == s || strings.HasPrefix(v, s) {
			return ClassRead
		}
	}
	return ClassAdmin
}
