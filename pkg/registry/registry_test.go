package registry

import (
	"errors"
	"testing"

	"github.com/anf-aiops/opsbot/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	r := Default()

	op, ok := r.Lookup("delete", "volume")
	require.True(t, ok)
	assert.Equal(t, "delete_volume", op.Name)
	assert.True(t, op.Destructive)

	op, ok = r.Lookup("LIST", "Pool")
	require.True(t, ok)
	assert.Equal(t, "list_pools", op.Name)
	assert.False(t, op.Destructive)

	// help has no entity and answers for all of them
	op, ok = r.Lookup("help", "volume")
	require.True(t, ok)
	assert.Equal(t, HelpOperation, op.Name)

	_, ok = r.Lookup("show", "volume")
	assert.False(t, ok)

	_, err := r.ByName("nope")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestRegistry_Immutable(t *testing.T) {
	r := Default()

	op, _ := r.Lookup("delete", "volume")
	op.ParameterSchema["injected"] = ParamSpec{Kind: KindString}
	op.Destructive = false

	again, _ := r.Lookup("delete", "volume")
	assert.NotContains(t, again.ParameterSchema, "injected")
	assert.True(t, again.Destructive)

	byName, err := r.ByName("create_volume")
	require.NoError(t, err)
	byName.ParameterSchema["injected"] = ParamSpec{Kind: KindString}
	byName.Constraints[0].Expr = "true"

	all := r.All()
	for i := range all {
		all[i].ParameterSchema["injected"] = ParamSpec{}
	}

	again, err = r.ByName("create_volume")
	require.NoError(t, err)
	assert.NotContains(t, again.ParameterSchema, "injected")
	assert.Equal(t, "params.size > 0", again.Constraints[0].Expr)
	for _, d := range r.All() {
		assert.NotContains(t, d.ParameterSchema, "injected", d.Name)
	}

	// validation still enforces the registered constraint
	_, err = r.Validate(again, map[string]string{"account": "a", "pool": "p", "name": "v", "size": "0"})
	assert.Error(t, err)
}

func TestRegistry_Vocabulary(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{"create", "delete", "help", "list", "resize", "update"}, r.Actions())
	assert.Equal(t, []string{"account", "pool", "snapshot", "volume"}, r.Entities())
	assert.Equal(t, HelpOperation, r.All()[0].Name)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(
		OperationDescriptor{Name: "a", Action: "list", Entity: "x"},
		OperationDescriptor{Name: "a", Action: "list", Entity: "y"},
	)
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = New(
		OperationDescriptor{Name: "a", Action: "list", Entity: "x"},
		OperationDescriptor{Name: "b", Action: "LIST", Entity: "X"},
	)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = New(OperationDescriptor{Name: "a", Action: "list", ParameterSchema: map[string]ParamSpec{"n": {Kind: "float"}}})
	assert.Error(t, err)

	_, err = New(OperationDescriptor{Name: "a", Action: "list", Constraints: []Constraint{{Expr: "params.x >"}}})
	assert.Error(t, err)

	_, err = New(OperationDescriptor{Action: "list"})
	assert.Error(t, err)
}

func TestValidate_CoercesAndDropsUndeclared(t *testing.T) {
	r := Default()
	op, _ := r.Lookup("create", "pool")

	p, err := r.Validate(op, map[string]string{
		"account":       "a1",
		"pool":          "p1",
		"location":      "eastus",
		"size_tb":       "04",
		"service_level": "Premium",
		"wait":          "TRUE",
		"colour":        "blue",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Typed["size_tb"])
	assert.Equal(t, true, p.Typed["wait"])
	assert.Equal(t, "4", p.Raw["size_tb"])
	assert.Equal(t, "true", p.Raw["wait"])
	assert.NotContains(t, p.Raw, "colour")
	assert.NotContains(t, p.Typed, "colour")
}

func TestValidate_Failures(t *testing.T) {
	r := Default()
	op, _ := r.Lookup("create", "pool")

	_, err := r.Validate(op, map[string]string{"account": "a1", "size_tb": "big"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["pool"])
	assert.Equal(t, "is required", fields["location"])
	assert.Equal(t, "must be an integer", fields["size_tb"])
}

func TestValidate_Constraints(t *testing.T) {
	r := Default()
	create, _ := r.Lookup("create", "pool")

	base := map[string]string{"account": "a", "pool": "p", "location": "eastus", "size_tb": "0", "service_level": "Gold"}
	_, err := r.Validate(create, base)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)

	update, _ := r.Lookup("update", "pool")
	_, err = r.Validate(update, map[string]string{"account": "a", "pool": "p"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "specify new_size_tb or service_level", verr.Fields[0].Message)

	p, err := r.Validate(update, map[string]string{"account": "a", "pool": "p", "service_level": "Ultra"})
	require.NoError(t, err)
	assert.Equal(t, "Ultra", p.Raw["service_level"])
}

func TestValidate_OptionalAbsent(t *testing.T) {
	r := Default()
	op, _ := r.Lookup("delete", "volume")

	p, err := r.Validate(op, map[string]string{"name": "vol1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "vol1"}, p.Raw)
}

func TestDefault_PermissionsMatchCatalog(t *testing.T) {
	cat := catalog.Default()
	for _, op := range Default().All() {
		perm, ok := cat.RequiredPermission(op.Action, op.Entity)
		if assert.True(t, ok, op.Name) {
			assert.Equal(t, op.RequiredPermission, perm, op.Name)
		}
	}
}
