package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smellsync/pkg/types"
)

func TestEncodeOrderIndependence(t *testing.T) {
	t.Parallel()

	a := FilterState{
		Search:       "god",
		Categories:   Set("structure", "coupling", "types"),
		Difficulties: Set("beginner", "advanced"),
		SortBy:       SortByTitle,
		SortOrder:    Asc,
		Page:         1,
		PageSize:     10,
	}
	b := FilterState{
		Search:       "god",
		Categories:   Set("types", "structure", "coupling", "structure"),
		Difficulties: Set("advanced", "beginner"),
		SortBy:       SortByTitle,
		SortOrder:    Asc,
		Page:         1,
		PageSize:     10,
	}

	assert.Equal(t, Encode(a), Encode(b), "selection order must not affect the key")
}

func TestEncodeEmptyEqualsCleared(t *testing.T) {
	t.Parallel()

	implicit := FilterState{Page: 1, PageSize: 10}
	cleared := FilterState{
		Search:       "",
		Categories:   Set(),
		Difficulties: map[string]struct{}{},
		SortBy:       SortByTitle,
		SortOrder:    Asc,
		Page:         1,
		PageSize:     10,
	}

	assert.Equal(t, Encode(implicit), Encode(cleared))
}

func TestEncodeTrimsSearch(t *testing.T) {
	t.Parallel()

	a := FilterState{Search: "  god  ", Page: 1, PageSize: 10}
	b := FilterState{Search: "god", Page: 1, PageSize: 10}
	assert.Equal(t, Encode(a), Encode(b))
}

func TestEncodeDistinguishesStates(t *testing.T) {
	t.Parallel()

	base := FilterState{Search: "god", Page: 1, PageSize: 10}

	variants := []FilterState{
		{Search: "gods", Page: 1, PageSize: 10},
		{Search: "god", Page: 2, PageSize: 10},
		{Search: "god", Page: 1, PageSize: 20},
		{Search: "god", Categories: Set("structure"), Page: 1, PageSize: 10},
		{Search: "god", SortOrder: Desc, Page: 1, PageSize: 10},
		{Search: "god", SortBy: SortByFavorites, Page: 1, PageSize: 10},
	}
	for _, v := range variants {
		assert.NotEqual(t, Encode(base), Encode(v), "%+v must not collide with base", v)
	}
}

func TestNeighbors(t *testing.T) {
	t.Parallel()

	fs := FilterState{Search: "god", Categories: Set("structure"), Page: 3, PageSize: 10}
	prev, next := Neighbors(fs)

	require.NotNil(t, prev)
	require.NotNil(t, next)
	assert.Equal(t, 2, prev.Page)
	assert.Equal(t, 4, next.Page)

	// Everything but the page is held constant.
	wantPrev := fs
	wantPrev.Page = 2
	assert.Equal(t, Encode(wantPrev), Encode(*prev))

	// No previous page on page one.
	fs.Page = 1
	prev, next = Neighbors(fs)
	assert.Nil(t, prev)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Page)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := FilterState{Page: 1, PageSize: 10}
	require.NoError(t, Validate(valid))

	cases := []struct {
		name string
		fs   FilterState
	}{
		{"zero page", FilterState{Page: 0, PageSize: 10}},
		{"negative page", FilterState{Page: -1, PageSize: 10}},
		{"zero page size", FilterState{Page: 1, PageSize: 0}},
		{"unknown sort field", FilterState{Page: 1, PageSize: 10, SortBy: "bogus"}},
		{"unknown sort order", FilterState{Page: 1, PageSize: 10, SortOrder: "sideways"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.fs)
			require.Error(t, err)
			assert.True(t, types.IsValidation(err), "expected a validation error, got %v", err)
		})
	}
}
