package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("consume credit: %w", Admission("ledger", ErrNoCredits))

	assert.Equal(t, KindAdmission, KindOf(err))
	assert.True(t, errors.Is(err, ErrNoCredits))
	assert.Equal(t, "consume credit: ledger: no credits available", err.Error())
}

func TestKindOfUntagged(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Nil(t, Pipeline("stage", nil))
}

func TestOperationalKinds(t *testing.T) {
	assert.False(t, KindAdmission.Operational())
	assert.False(t, KindNotFound.Operational())
	assert.True(t, KindPipeline.Operational())
	assert.True(t, KindTransient.Operational())
}
