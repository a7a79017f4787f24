package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type userSession struct {
	Count int
}

func TestGetCreatesOnFirstAccess(t *testing.T) {
	r := New()
	calls := 0
	factory := func() any {
		calls++
		return &userSession{}
	}

	v1 := r.Get("client-1", factory)
	v2 := r.Get("client-1", factory)

	assert.Same(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestGetIsPerClient(t *testing.T) {
	r := New()
	a := r.Get("client-a", func() any { return &userSession{Count: 1} })
	b := r.Get("client-b", func() any { return &userSession{Count: 2} })

	assert.NotSame(t, a, b)
	assert.Equal(t, 1, a.(*userSession).Count)
	assert.Equal(t, 2, b.(*userSession).Count)
}

func TestPeekDoesNotCreate(t *testing.T) {
	r := New()
	_, ok := r.Peek("ghost")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestDeleteEvictsSession(t *testing.T) {
	r := New()
	r.Get("client-1", func() any { return &userSession{} })
	assert.Equal(t, 1, r.Len())

	r.Delete("client-1")
	assert.Equal(t, 0, r.Len())

	_, ok := r.Peek("client-1")
	assert.False(t, ok)
}

func TestSessionSurvivesAcrossReconnectUntilExplicitDelete(t *testing.T) {
	r := New()
	first := r.Get("client-1", func() any { return &userSession{Count: 7} })
	first.(*userSession).Count = 42

	// Simulated reconnect: same clientID, Get must return the same value.
	again := r.Get("client-1", func() any { return &userSession{Count: 7} })
	assert.Equal(t, 42, again.(*userSession).Count)
}

func TestGetTypedAsserts(t *testing.T) {
	r := New()
	s := GetTyped(r, "client-1", func() userSession { return userSession{Count: 5} })
	assert.Equal(t, 5, s.Count)

	s2 := GetTyped(r, "client-1", func() userSession { return userSession{Count: 99} })
	assert.Equal(t, 5, s2.Count)
}

func TestGetFromContext(t *testing.T) {
	r := New()
	ctx := NewContext(context.Background(), "client-1", r)

	s := Get(ctx, func() userSession { return userSession{Count: 7} })
	assert.Equal(t, 7, s.Count)

	s2 := Get(ctx, func() userSession { return userSession{Count: 999} })
	assert.Equal(t, 7, s2.Count)
}

func TestGetPanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() {
		Get(context.Background(), func() userSession { return userSession{} })
	})
}
