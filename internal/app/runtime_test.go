package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/aeat111/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	assert.Equal(t, guard.Env, TestModeEnv)
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
