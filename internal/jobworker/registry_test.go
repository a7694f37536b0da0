package jobworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

func TestRegistry_GetUnknownTypeErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("NO_SUCH_TYPE")
	require.Error(t, err)
}

func TestRegistry_RegisterThenGetReturnsSameHandler(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job *domain.Job) (interface{}, error) {
		return "ok", nil
	})
	r.Register("RENDER_VIDEO", h)

	got, err := r.Get("RENDER_VIDEO")
	require.NoError(t, err)
	result, err := got.Handle(context.Background(), &domain.Job{})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestRegistry_RegisteredTypesListsEveryHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("A", HandlerFunc(func(context.Context, *domain.Job) (interface{}, error) { return nil, nil }))
	r.Register("B", HandlerFunc(func(context.Context, *domain.Job) (interface{}, error) { return nil, nil }))

	types := r.RegisteredTypes()
	require.ElementsMatch(t, []string{"A", "B"}, types)
}
