package consensus

import (
	"crypto/ecdsa"
	"crypto/rand"
	"testing"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/payload"
	"github.com/stretchr/testify/require"
)

func fourValidators(t *testing.T) *payload.ValidatorSet {
	t.Helper()
	keys := make([]*crypto.PublicKey, 4)
	for i := range keys {
		k, err := ecdsa.GenerateKey(crypto.Curve, rand.Reader)
		require.NoError(t, err)
		keys[i] = &crypto.PublicKey{PublicKey: k.PublicKey}
	}
	return &payload.ValidatorSet{Keys: keys}
}

func TestContextPrimaryRotatesWithView(t *testing.T) {
	v := fourValidators(t)
	c := NewContext(10, v, 0)
	require.Equal(t, v.PrimaryIndex(10, 0), c.Primary())
	c.resetView(1)
	require.Equal(t, v.PrimaryIndex(10, 1), c.Primary())
}

func TestContextQuorumResponsesExcludesPrimary(t *testing.T) {
	v := fourValidators(t) // N=4, M=3
	c := NewContext(5, v, 1)
	body := &PrepareRequestBody{Timestamp: 1, NextConsensus: payload.Hash20{1}}
	require.True(t, c.SetPrepareRequest(c.Primary(), body))

	require.False(t, c.HasQuorumResponses())
	c.AddPrepareResponse(validatorOtherThan(v, c.Primary(), 0), c.PrepareRequestHash())
	require.False(t, c.HasQuorumResponses())
	c.AddPrepareResponse(validatorOtherThan(v, c.Primary(), 1), c.PrepareRequestHash())
	require.True(t, c.HasQuorumResponses())
}

func validatorOtherThan(v *payload.ValidatorSet, primary int, nth int) int {
	count := 0
	for i := 0; i < v.N(); i++ {
		if i == primary {
			continue
		}
		if count == nth {
			return i
		}
		count++
	}
	return -1
}

func TestContextCannotDoubleCommitSameView(t *testing.T) {
	v := fourValidators(t)
	c := NewContext(1, v, 0)
	require.True(t, c.CanCommit())
	c.MarkCommitted()
	require.False(t, c.CanCommit())
	c.resetView(1)
	require.True(t, c.CanCommit())
}

func TestContextHasQuorumChangeView(t *testing.T) {
	v := fourValidators(t) // M = 3
	c := NewContext(1, v, 0)
	c.AddChangeView(0, 1)
	c.AddChangeView(1, 1)
	require.False(t, c.HasQuorumChangeView(1))
	c.AddChangeView(2, 1)
	require.True(t, c.HasQuorumChangeView(1))
}

func TestContextRejectsMismatchedPrepareResponse(t *testing.T) {
	v := fourValidators(t)
	c := NewContext(1, v, 0)
	body := &PrepareRequestBody{Timestamp: 1, NextConsensus: payload.Hash20{1}}
	c.SetPrepareRequest(c.Primary(), body)

	c.AddPrepareResponse(1, payload.Hash32{0xFF}) // wrong hash, discarded
	require.False(t, c.HasQuorumResponses())
}

func TestContextCacheFutureResponseEvictsOldest(t *testing.T) {
	v := fourValidators(t)
	c := NewContext(1, v, 0)
	for i := 0; i < MaxPendingFutureResponses; i++ {
		evicted, _ := c.CacheFutureResponse(5, i%4, payload.Hash32{byte(i)})
		require.False(t, evicted)
	}
	evicted, evictedView := c.CacheFutureResponse(5, 0, payload.Hash32{0xEE})
	require.True(t, evicted)
	require.Equal(t, uint8(5), evictedView)
}

func TestContextApplyPendingResponsesConsumesMatchingView(t *testing.T) {
	v := fourValidators(t)
	c := NewContext(1, v, 0)
	body := &PrepareRequestBody{Timestamp: 1, NextConsensus: payload.Hash20{1}}

	c.CacheFutureResponse(0, 1, payload.Hash32{0xAB})
	c.SetPrepareRequest(c.Primary(), body)
	c.prepareRequestHash = payload.Hash32{0xAB}

	c.ApplyPendingResponses()
	require.Contains(t, c.prepareResponses, 1)
}
