package catalog

// ANF role names shipped with the bot.
const (
	RoleReader   = "ANF.Reader"
	RoleOperator = "ANF.Operator"
	RoleAdmin    = DefaultAdminRole
)

// Entities managed through the bot.
var Entities = []string{"account", "pool", "volume", "snapshot"}

// DefaultRoles is the role table used when no roles file is configured.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{Name: RoleReader, Permissions: []string{PermRead}},
		{Name: RoleOperator, Permissions: []string{PermRead, PermWrite, PermDelete}},
		{Name: RoleAdmin, Permissions: []string{Wildcard}},
	}
}

// DefaultRules maps the ANF verbs onto permissions for every entity.
func DefaultRules() []ActionRule {
	verbs := []struct {
		action string
		perm   string
	}{
		{"list", PermRead},
		{"show", PermRead},
		{"create", PermWrite},
		{"update", PermWrite},
		{"resize", PermWrite},
		{"delete", PermDelete},
	}

	rules := []ActionRule{{Action: "help", Permission: Public}}
	for _, e := range Entities {
		for _, v := range verbs {
			rules = append(rules, ActionRule{Action: v.action, Entity: e, Permission: v.perm})
		}
	}
	return rules
}

// Default returns the built-in ANF catalog.
func Default() *Catalog {
	c, err := New(DefaultAdminRole, DefaultRoles(), DefaultRules())
	if err != nil {
		// The built-in tables are static; failure here is a programming error.
		panic(err)
	}
	return c
}
