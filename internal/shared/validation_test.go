package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

type nestedLine struct {
	Code string `json:"code" validate:"required"`
}

type nestedInput struct {
	Email string       `json:"email" validate:"required,email"`
	GSTIN string       `json:"gstin" validate:"omitempty,gstin"`
	Lines []nestedLine `json:"lines" validate:"required,min=1,dive"`
}

func TestCollectValidationUsesJSONPaths(t *testing.T) {
	v := NewValidator()
	in := nestedInput{Email: "nope", GSTIN: "27AAPFU0939F1Z", Lines: []nestedLine{{Code: "a"}, {}}}

	verr := NewValidationError()
	require.NoError(t, CollectValidation(v.Struct(in), verr, nil))

	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Equal(t, "must be a valid GSTIN", verr.Fields["gstin"])
	assert.Equal(t, "is required", verr.Fields["lines[1].code"])
	assert.Len(t, verr.Fields, 3)
}

func TestValidationErrorUnwrapsToSentinel(t *testing.T) {
	verr := NewValidationError()
	assert.NoError(t, verr.OrNil())

	verr.Add("name", "is required")
	verr.Add("name", "second message is ignored")
	err := verr.OrNil()
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Equal(t, "is required", verr.FieldErrors()["name"])
	assert.Equal(t, "validation failed: name is required", err.Error())
}

func TestGSTINPattern(t *testing.T) {
	assert.True(t, GSTINPattern.MatchString("27AAPFU0939F1ZV"))
	assert.False(t, GSTINPattern.MatchString("27aapfu0939f1zv"))
	assert.False(t, GSTINPattern.MatchString("27AAPFU0939F0ZV"))
}
