package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

func unit(id string, needs ...string) domain.Unit {
	return domain.Unit{ID: id, Needs: needs}
}

func indexOf(t *testing.T, units []domain.Unit, id string) int {
	t.Helper()
	for i, u := range units {
		if u.ID == id {
			return i
		}
	}
	t.Fatalf("unit %s not in result", id)
	return -1
}

func TestOrder_PrerequisitesFirst(t *testing.T) {
	units := []domain.Unit{
		unit("web", "api"),
		unit("api", "db"),
		unit("db"),
	}

	ordered, err := Order(units, NeedsEdges)
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	assert.Less(t, indexOf(t, ordered, "db"), indexOf(t, ordered, "api"))
	assert.Less(t, indexOf(t, ordered, "api"), indexOf(t, ordered, "web"))
}

func TestOrder_EveryPrerequisitePrecedes(t *testing.T) {
	units := []domain.Unit{
		unit("e", "c", "d"),
		unit("d", "b"),
		unit("c", "a"),
		unit("b", "a"),
		unit("a"),
		unit("f"),
	}

	ordered, err := Order(units, NeedsEdges)
	require.NoError(t, err)
	require.Len(t, ordered, len(units))

	for _, u := range units {
		for _, need := range u.Needs {
			assert.Less(t, indexOf(t, ordered, need), indexOf(t, ordered, u.ID),
				"%s must precede %s", need, u.ID)
		}
	}
}

func TestOrder_IndependentUnitsKeepSubmissionOrder(t *testing.T) {
	units := []domain.Unit{
		unit("gamma"),
		unit("alpha"),
		unit("beta"),
	}

	ordered, err := Order(units, NeedsEdges)
	require.NoError(t, err)

	got := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, got)
}

func TestOrder_CycleDetected(t *testing.T) {
	units := []domain.Unit{
		unit("a", "b"),
		unit("b", "a"),
	}

	_, err := Order(units, NeedsEdges)
	require.Error(t, err)

	var cycleErr *domain.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, []string{"a", "b"}, cycleErr.UnitID)
}

func TestOrder_SelfCycle(t *testing.T) {
	units := []domain.Unit{unit("a", "a")}

	_, err := Order(units, NeedsEdges)
	var cycleErr *domain.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "a", cycleErr.UnitID)
}

func TestOrder_UnknownPrerequisiteIgnored(t *testing.T) {
	units := []domain.Unit{
		unit("a", "not-in-this-run"),
		unit("b", "a"),
	}

	ordered, err := Order(units, NeedsEdges)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].ID)
	assert.Equal(t, "b", ordered[1].ID)
}

func TestOrder_CustomEdgeFunc(t *testing.T) {
	deps := map[string][]string{"worker": {"queue"}}
	units := []domain.Unit{
		unit("worker"),
		unit("queue"),
	}

	ordered, err := Order(units, func(u domain.Unit) []string { return deps[u.ID] })
	require.NoError(t, err)
	assert.Equal(t, "queue", ordered[0].ID)
	assert.Equal(t, "worker", ordered[1].ID)
}

func TestOrder_Empty(t *testing.T) {
	ordered, err := Order(nil, NeedsEdges)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}
