package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	ee := Newf("something broke").Build()
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.Equal(t, "something broke", ee.Error())
}

func TestBuilderWithMetadata(t *testing.T) {
	t.Parallel()

	ee := Newf("detection %s is already completed", "abc").
		Component("detection").
		Category(CategoryConflict).
		Context("detection_id", "abc").
		Build()

	assert.Equal(t, "detection", ee.Component)
	assert.Equal(t, CategoryConflict, ee.Category)
	assert.Equal(t, "abc", ee.GetContext()["detection_id"])
}

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		want     bool
	}{
		{"matching category", Newf("bad upload").Category(CategoryValidation).Build(), CategoryValidation, true},
		{"non-matching category", Newf("bad upload").Category(CategoryValidation).Build(), CategoryConflict, false},
		{"wrapped enhanced error", fmt.Errorf("handler: %w", Newf("missing").Category(CategoryNotFound).Build()), CategoryNotFound, true},
		{"plain error", fmt.Errorf("plain"), CategoryValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HasCategory(tt.err, tt.category))
		})
	}
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryStorage, CategoryOf(Newf("x").Category(CategoryStorage).Build()))
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}

func TestContextIsCopied(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Context("key", "value").Build()
	ctx := ee.GetContext()
	require.NotNil(t, ctx)
	ctx["key"] = "mutated"
	assert.Equal(t, "value", ee.GetContext()["key"])
}
