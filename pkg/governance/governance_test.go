package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/governance"
	"github.com/stagegate/stagegate/pkg/models"
)

func spec(id, phase, workerType string) models.NodeSpec {
	return models.NodeSpec{ID: id, Phase: phase, WorkerType: workerType}
}

func TestBudgetPolicyExhaustion(t *testing.T) {
	policy := governance.NewBudgetPolicy(2)
	wctx := &models.WorkflowContext{}

	require.NoError(t, policy.Allow(spec("a", "build", "log"), wctx))
	require.NoError(t, policy.Allow(spec("b", "build", "log"), wctx))

	err := policy.Allow(spec("c", "build", "log"), wctx)

	var denied *governance.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "budget", denied.PolicyName)
	assert.Equal(t, "c", denied.NodeID)
}

func TestConcurrencyPolicyPerPhase(t *testing.T) {
	policy := governance.NewConcurrencyPolicy(1)
	wctx := &models.WorkflowContext{}

	require.NoError(t, policy.Allow(spec("a", "build", "log"), wctx))

	var denied *governance.DeniedError
	require.ErrorAs(t, policy.Allow(spec("b", "build", "log"), wctx), &denied)

	// A different phase has its own slot.
	require.NoError(t, policy.Allow(spec("c", "test", "log"), wctx))

	policy.Release(spec("a", "build", "log"))
	require.NoError(t, policy.Allow(spec("b", "build", "log"), wctx))
}

func TestChainReleasesConcurrencySlots(t *testing.T) {
	chain := governance.NewChain(governance.NewConcurrencyPolicy(1))
	wctx := &models.WorkflowContext{}

	require.NoError(t, chain.Allow(spec("a", "build", "log"), wctx))
	chain.Release(spec("a", "build", "log"))

	// The freed slot admits the next sequential node.
	require.NoError(t, chain.Allow(spec("b", "build", "log"), wctx))
	chain.Release(spec("b", "build", "log"))
	require.NoError(t, chain.Allow(spec("c", "build", "log"), wctx))
}

func TestPermissionPolicy(t *testing.T) {
	policy := governance.NewPermissionPolicy([]string{"log"})
	wctx := &models.WorkflowContext{}

	require.NoError(t, policy.Allow(spec("a", "build", "log"), wctx))

	var denied *governance.DeniedError
	require.ErrorAs(t, policy.Allow(spec("b", "build", "command"), wctx), &denied)
	assert.Equal(t, "permission", denied.PolicyName)
}

func TestChainFirstDenialWins(t *testing.T) {
	chain := governance.NewChain(
		governance.NewPermissionPolicy([]string{"log"}),
		governance.NewBudgetPolicy(1),
	)
	wctx := &models.WorkflowContext{}

	require.NoError(t, chain.Allow(spec("a", "build", "log"), wctx))

	var denied *governance.DeniedError
	require.ErrorAs(t, chain.Allow(spec("b", "build", "command"), wctx), &denied)
	assert.Equal(t, "permission", denied.PolicyName)

	require.ErrorAs(t, chain.Allow(spec("c", "build", "log"), wctx), &denied)
	assert.Equal(t, "budget", denied.PolicyName)
}

func TestEmptyChainAllows(t *testing.T) {
	chain := governance.NewChain()
	assert.NoError(t, chain.Allow(spec("a", "build", "log"), &models.WorkflowContext{}))
}
