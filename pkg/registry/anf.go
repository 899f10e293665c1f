package registry

import "github.com/anf-aiops/opsbot/pkg/catalog"

// Service levels accepted by capacity pools.
var ServiceLevels = []string{"Ultra", "Premium", "Standard", "StandardZRS"}

const serviceLevelExpr = `params.service_level in ['Ultra', 'Premium', 'Standard', 'StandardZRS']`

var (
	str    = ParamSpec{Kind: KindString}
	reqStr = ParamSpec{Kind: KindString, Required: true}
	reqInt = ParamSpec{Kind: KindInt, Required: true}
	optInt = ParamSpec{Kind: KindInt}
	wait   = ParamSpec{Kind: KindBool, Description: "wait for the long-running operation to finish"}
)

// ANFOperations returns the Azure NetApp Files operation table served by the
// MCP backend, plus the locally answered help operation.
func ANFOperations() []OperationDescriptor {
	return []OperationDescriptor{
		{
			Name: HelpOperation, Action: "help",
			RequiredPermission: catalog.Public,
			ParameterSchema:    map[string]ParamSpec{},
			Summary:            "Show the commands you can run",
		},

		// accounts
		{
			Name: "list_accounts", Action: "list", Entity: "account",
			RequiredPermission: catalog.PermRead,
			ParameterSchema:    map[string]ParamSpec{},
			Summary:            "List NetApp accounts",
		},
		{
			Name: "create_account", Action: "create", Entity: "account",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"name":     reqStr,
				"location": reqStr,
				"wait":     wait,
			},
			Summary: "Create a NetApp account",
		},
		{
			Name: "delete_account", Action: "delete", Entity: "account",
			RequiredPermission: catalog.PermDelete,
			Destructive:        true,
			ParameterSchema: map[string]ParamSpec{
				"name": reqStr,
				"wait": wait,
			},
			Summary: "Delete a NetApp account",
		},

		// capacity pools
		{
			Name: "list_pools", Action: "list", Entity: "pool",
			RequiredPermission: catalog.PermRead,
			ParameterSchema: map[string]ParamSpec{
				"account": reqStr,
			},
			Summary: "List pools under an account",
		},
		{
			Name: "create_pool", Action: "create", Entity: "pool",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"account":       reqStr,
				"pool":          reqStr,
				"location":      reqStr,
				"size_tb":       reqInt,
				"service_level": reqStr,
				"wait":          wait,
			},
			Constraints: []Constraint{
				{Expr: `params.size_tb > 0`, Message: "size_tb must be greater than 0"},
				{Expr: serviceLevelExpr, Message: "service_level must be one of Ultra, Premium, Standard, StandardZRS"},
			},
			Summary: "Create a capacity pool",
		},
		{
			Name: "resize_pool", Action: "resize", Entity: "pool",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"account":     reqStr,
				"pool":        reqStr,
				"new_size_tb": reqInt,
				"wait":        wait,
			},
			Constraints: []Constraint{
				{Expr: `params.new_size_tb > 0`, Message: "new_size_tb must be greater than 0"},
			},
			Summary: "Resize a capacity pool",
		},
		{
			Name: "update_pool", Action: "update", Entity: "pool",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"account":       reqStr,
				"pool":          reqStr,
				"new_size_tb":   optInt,
				"service_level": str,
				"wait":          wait,
			},
			Constraints: []Constraint{
				{Expr: `'new_size_tb' in params || 'service_level' in params`, Message: "specify new_size_tb or service_level"},
				{Expr: `!('new_size_tb' in params) || params.new_size_tb > 0`, Message: "new_size_tb must be greater than 0"},
				{Expr: `!('service_level' in params) || ` + serviceLevelExpr, Message: "service_level must be one of Ultra, Premium, Standard, StandardZRS"},
			},
			Summary: "Resize a pool or change its service level",
		},
		{
			Name: "delete_pool", Action: "delete", Entity: "pool",
			RequiredPermission: catalog.PermDelete,
			Destructive:        true,
			ParameterSchema: map[string]ParamSpec{
				"account": reqStr,
				"pool":    reqStr,
				"wait":    wait,
			},
			Summary: "Delete a capacity pool",
		},

		// volumes
		{
			Name: "list_volumes", Action: "list", Entity: "volume",
			RequiredPermission: catalog.PermRead,
			ParameterSchema: map[string]ParamSpec{
				"account": str,
				"pool":    str,
			},
			Summary: "List volumes",
		},
		{
			Name: "create_volume", Action: "create", Entity: "volume",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"account": reqStr,
				"pool":    reqStr,
				"name":    reqStr,
				"size":    reqInt,
				"wait":    wait,
			},
			Constraints: []Constraint{
				{Expr: `params.size > 0`, Message: "size must be greater than 0"},
			},
			Summary: "Create a volume (size in GiB)",
		},
		{
			Name: "resize_volume", Action: "resize", Entity: "volume",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"account": str,
				"pool":    str,
				"name":    reqStr,
				"size":    reqInt,
				"wait":    wait,
			},
			Constraints: []Constraint{
				{Expr: `params.size > 0`, Message: "size must be greater than 0"},
			},
			Summary: "Resize a volume (size in GiB)",
		},
		{
			Name: "delete_volume", Action: "delete", Entity: "volume",
			RequiredPermission: catalog.PermDelete,
			Destructive:        true,
			ParameterSchema: map[string]ParamSpec{
				"account": str,
				"pool":    str,
				"name":    reqStr,
				"wait":    wait,
			},
			Summary: "Delete a volume",
		},

		// snapshots
		{
			Name: "list_snapshots", Action: "list", Entity: "snapshot",
			RequiredPermission: catalog.PermRead,
			ParameterSchema: map[string]ParamSpec{
				"volume": reqStr,
			},
			Summary: "List snapshots of a volume",
		},
		{
			Name: "create_snapshot", Action: "create", Entity: "snapshot",
			RequiredPermission: catalog.PermWrite,
			ParameterSchema: map[string]ParamSpec{
				"volume": reqStr,
				"name":   reqStr,
			},
			Summary: "Take a snapshot of a volume",
		},
		{
			Name: "delete_snapshot", Action: "delete", Entity: "snapshot",
			RequiredPermission: catalog.PermDelete,
			Destructive:        true,
			ParameterSchema: map[string]ParamSpec{
				"volume": str,
				"name":   reqStr,
			},
			Summary: "Delete a snapshot",
		},
	}
}

// Default returns the registry built from ANFOperations.
func Default() *Registry {
	r, err := New(ANFOperations()...)
	if err != nil {
		panic(err)
	}
	return r
}
