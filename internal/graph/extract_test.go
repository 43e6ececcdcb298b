package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractEntitiesFindsProperNounsInOrder(t *testing.T) {
	content := "Alice met Bob Smith at the Eiffel Tower to discuss the Cortex Project."
	entities := ExtractEntities("t1", "p1", content)

	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "Alice")
	require.Contains(t, names, "Bob Smith")
	require.Contains(t, names, "Eiffel Tower")
	require.Contains(t, names, "Cortex Project")
}

func TestExtractEntitiesDeduplicatesCaseInsensitively(t *testing.T) {
	entities := ExtractEntities("t1", "p1", "Alice called Alice again.")
	require.Len(t, entities, 1)
}

func TestEntityIDStableAcrossCalls(t *testing.T) {
	a := EntityID("t1", "p1", "Alice")
	b := EntityID("t1", "p1", "alice")
	require.Equal(t, a, b, "entity id should be case-insensitive")

	c := EntityID("t1", "p2", "Alice")
	require.NotEqual(t, a, c, "different project scopes different entity")
}

func TestDeriveRelationsChainsConsecutiveEntities(t *testing.T) {
	entities := ExtractEntities("t1", "p1", "Alice met Bob Smith who introduced Carol.")
	relations := DeriveRelations(entities)
	require.NotEmpty(t, relations)
	for _, r := range relations {
		require.NotEqual(t, r.FromEntity, r.ToEntity)
		require.Equal(t, "co_occurs", r.Kind)
	}
}

func TestDeriveRelationsEmptyForSingleEntity(t *testing.T) {
	entities := ExtractEntities("t1", "p1", "Only Alice is mentioned here.")
	require.Empty(t, DeriveRelations(entities))
}
