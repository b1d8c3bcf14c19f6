package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitReview struct {
	RuleID  string `validate:"required,uuid"`
	Rating  int    `validate:"required,gte=1,lte=5"`
	Comment string `validate:"max=2000"`
}

func TestValidate_OK(t *testing.T) {
	err := Validate(submitReview{
		RuleID: "2f7a9f1e-44f0-4db2-93b8-6f33f0f4a111",
		Rating: 4,
	})
	assert.NoError(t, err)
}

func TestValidate_FieldErrors(t *testing.T) {
	err := Validate(submitReview{RuleID: "not-a-uuid", Rating: 9})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))

	fields := valErr.Fields()
	assert.Equal(t, "must be a valid UUID", fields["RuleID"])
	assert.Equal(t, "must be less than or equal to 5", fields["Rating"])
	assert.Contains(t, valErr.Error(), "RuleID")
}

func TestValidate_RequiredMessage(t *testing.T) {
	err := Validate(submitReview{})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "is required", valErr.Fields()["RuleID"])
}
