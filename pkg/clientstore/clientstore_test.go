package clientstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	gotName string
	gotArgs []any
	result  any
	err     error
}

func (f *fakeCaller) CallClient(ctx context.Context, name string, args []any) (any, error) {
	f.gotName = name
	f.gotArgs = args
	return f.result, f.err
}

func TestPropChainIsAllocationOnly(t *testing.T) {
	caller := &fakeCaller{}
	d := Store(caller, "images").Prop("foo").Prop("bar")

	assert.Equal(t, "images", d.storeID)
	assert.Equal(t, []any{"foo", "bar"}, d.propChain)
	assert.Empty(t, caller.gotName, "chaining must not issue any RPC")
}

func TestAwaitPropertyIssuesGetStoreProperty(t *testing.T) {
	caller := &fakeCaller{result: "kidney.nii"}
	d := Store(caller, "images").Prop("name")

	got, err := d.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kidney.nii", got)
	assert.Equal(t, "getStoreProperty", caller.gotName)
	assert.Equal(t, []any{"images", []any{"name"}}, caller.gotArgs)
}

func TestCallIssuesCallStoreMethod(t *testing.T) {
	caller := &fakeCaller{result: "kidney.nii"}
	mc := Store(caller, "images").Prop("getName").Call("img-1")

	got, err := mc.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kidney.nii", got)
	assert.Equal(t, "callStoreMethod", caller.gotName)
	assert.Equal(t, []any{"images", []any{"getName"}, []any{"img-1"}}, caller.gotArgs)
}

func TestPropIsImmutableAcrossBranches(t *testing.T) {
	caller := &fakeCaller{}
	root := Store(caller, "images").Prop("a")
	branch1 := root.Prop("b1")
	branch2 := root.Prop("b2")

	assert.Equal(t, []any{"a"}, root.propChain)
	assert.Equal(t, []any{"a", "b1"}, branch1.propChain)
	assert.Equal(t, []any{"a", "b2"}, branch2.propChain)
}

func TestIndexAppendsIntegerSegment(t *testing.T) {
	caller := &fakeCaller{result: "kidney.nii"}
	d := Store(caller, "images").Index(0).Prop("name")

	got, err := d.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kidney.nii", got)
	assert.Equal(t, []any{"images", []any{0, "name"}}, caller.gotArgs)
}

func TestCallerErrorPropagates(t *testing.T) {
	caller := &fakeCaller{err: assert.AnError}
	_, err := Store(caller, "images").Prop("x").Await(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
