package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gamehub-rewards/internal/repository"
)

func inviteFriends(t *testing.T, f *fixture, inviter Actor, n int) {
	t.Helper()
	ctx := context.Background()

	status, err := f.svc.InviteStatus(ctx, inviter)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		friend := newActor("friend")
		_, err := f.svc.RedeemInvite(ctx, friend, status.InviteCode)
		require.NoError(t, err)
	}
}

func TestRedeemInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := newActor("mike")
	friend := newActor("nina")

	status, err := f.svc.InviteStatus(ctx, inviter)
	require.NoError(t, err)
	require.Len(t, status.InviteCode, 9)

	_, err = f.svc.RedeemInvite(ctx, friend, "bad")
	assert.ErrorIs(t, err, ErrInvalidInviteCode)

	_, err = f.svc.RedeemInvite(ctx, inviter, status.InviteCode)
	assert.ErrorIs(t, err, repository.ErrSelfInvite)

	p, err := f.svc.RedeemInvite(ctx, friend, " "+status.InviteCode+" ")
	require.NoError(t, err)
	assert.Equal(t, inviter.UserID, p.InvitedBy)

	_, err = f.svc.RedeemInvite(ctx, friend, status.InviteCode)
	assert.ErrorIs(t, err, repository.ErrAlreadyInvited)

	status, err = f.svc.InviteStatus(ctx, inviter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.InvitedCount)
	assert.True(t, status.Milestones[0].Claimable)
	assert.False(t, status.Milestones[1].Claimable)
}

func TestClaimInvite_Once(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := newActor("olga")

	_, err := f.svc.ClaimInvite(ctx, inviter, "invite-1")
	assert.ErrorIs(t, err, ErrNotEligible)

	inviteFriends(t, f, inviter, 1)

	ok, err := f.svc.CanClaimInvite(ctx, inviter, "invite-1")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := f.svc.ClaimInvite(ctx, inviter, "invite-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Tokens)

	_, err = f.svc.ClaimInvite(ctx, inviter, "invite-1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	_, err = f.svc.ClaimInvite(ctx, inviter, "invite-3")
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.svc.ClaimInvite(ctx, inviter, "invite-99")
	assert.ErrorIs(t, err, ErrUnknownMilestone)

	assert.Equal(t, int64(100), f.tokens(t, f.repo, inviter))
}

func TestClaimInvite_ConcurrentClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := newActor("pavel")
	inviteFriends(t, f, inviter, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ClaimInvite(ctx, inviter, "invite-5")
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if assert.ErrorIs(t, err, ErrAlreadyClaimed) {
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	status, err := f.svc.InviteStatus(ctx, inviter)
	require.NoError(t, err)
	assert.Equal(t, []string{"invite-5"}, status.Claimed)
}

func TestClaimInvite_TestModeRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := operator()

	for i := 0; i < 3; i++ {
		res, err := f.svc.ClaimInvite(ctx, op, "invite-1")
		require.NoError(t, err, "claim %d", i)
		assert.Equal(t, int64(100*(i+1)), res.Tokens)
	}

	status, err := f.svc.InviteStatus(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, []string{"invite-1"}, status.Claimed)
	assert.True(t, status.Milestones[0].Claimed)
	assert.True(t, status.Milestones[0].Claimable)

	_, err = f.repo.GetProfile(ctx, op.UserID)
	assert.ErrorIs(t, err, repository.ErrProfileNotFound)
}

func TestAddSandboxInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := operator()

	_, err := f.svc.AddSandboxInvites(ctx, newActor("quinn"), 1)
	assert.ErrorIs(t, err, ErrTestModeForbidden)

	_, err = f.svc.AddSandboxInvites(ctx, op, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	status, err := f.svc.AddSandboxInvites(ctx, op, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), status.InvitedCount)

	status, err = f.svc.AddSandboxInvites(ctx, op, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.InvitedCount)
	assert.True(t, status.TestMode)

	p, err := f.sandbox.GetProfile(ctx, op.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.InvitedCount)
	assert.Positive(t, f.notifier.count())

	// Счётчик песочницы не попадает в рабочий профиль.
	op.TestMode = false
	_, err = f.svc.ClaimInvite(ctx, op, "invite-3")
	assert.ErrorIs(t, err, ErrNotEligible)

	require.NoError(t, f.svc.ResetSandbox(ctx, operator()))
	status, err = f.svc.InviteStatus(ctx, operator())
	require.NoError(t, err)
	assert.Zero(t, status.InvitedCount)
}
