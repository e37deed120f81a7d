package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		class     Class
		retryable bool
	}{
		{"plain", base, Unclassified, true},
		{"data", DataErr(base), Data, false},
		{"structural", StructuralErr(base), Structural, false},
		{"conflict", ConflictErr(base), Conflict, true},
		{"infra", InfraErr(base), Infrastructure, true},
		{"wrapped conflict", fmt.Errorf("open job: %w", ConflictErr(base)), Conflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, ClassOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.ErrorIs(t, tt.err, base)
		})
	}
}

func TestNilIsNotClassified(t *testing.T) {
	assert.NoError(t, ConflictErr(nil))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsConflict(nil))
	assert.False(t, IsInfra(nil))
}

func TestFormatted(t *testing.T) {
	err := Conflictf("job %s is in use", "j1")
	assert.True(t, IsConflict(err))
	assert.EqualError(t, err, "job j1 is in use")

	err = Structuralf("bad header")
	assert.True(t, IsStructural(err))
	assert.Equal(t, "structural", ClassOf(err).String())
}

func TestIsInfra(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsInfra(base))
	assert.True(t, IsInfra(InfraErr(base)))
	assert.False(t, IsInfra(ConflictErr(base)))
	assert.False(t, IsInfra(StructuralErr(base)))
}
