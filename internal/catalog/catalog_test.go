package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_OverridesPackages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	content := `
[[packages]]
id = "starter"
amount = 20
bonus = 2
price_cents = 199
tag = "Intro"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	require.Len(t, c.Packages, 1)
	assert.Equal(t, model.Package{ID: "starter", Amount: 20, Bonus: 2, PriceCents: 199, Tag: "Intro"}, c.Packages[0])
	assert.Equal(t, Default().Tasks, c.Tasks)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	content := `
[[tasks]]
id = "daily-bad"
title = "Bad"
cadence = "weekly"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Catalog)
	}{
		{
			name:   "short checkin table",
			mutate: func(c *Catalog) { c.Checkin = c.Checkin[:6] },
		},
		{
			name:   "checkin days out of order",
			mutate: func(c *Catalog) { c.Checkin[0].Day, c.Checkin[1].Day = 2, 1 },
		},
		{
			name:   "duplicate task",
			mutate: func(c *Catalog) { c.Tasks = append(c.Tasks, c.Tasks[0]) },
		},
		{
			name:   "non-monotonic ladder",
			mutate: func(c *Catalog) { c.Milestones[1].FriendCount = 1 },
		},
		{
			name:   "free package",
			mutate: func(c *Catalog) { c.Packages[0].PriceCents = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidCatalog)
		})
	}
}

func TestLookups(t *testing.T) {
	c := Default()

	r, ok := c.CheckinReward(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), r.Tokens())

	r, ok = c.CheckinReward(4)
	require.True(t, ok)
	assert.Equal(t, int64(0), r.Tokens())

	_, ok = c.CheckinReward(8)
	assert.False(t, ok)

	task, ok := c.Task("daily-games")
	require.True(t, ok)
	assert.Equal(t, 3, task.Total)

	m, ok := c.Milestone("invite-5")
	require.True(t, ok)
	assert.Equal(t, int64(5), m.FriendCount)

	p, ok := c.Package("token_50")
	require.True(t, ok)
	assert.Equal(t, int64(55), p.Amount+p.Bonus)

	assert.True(t, IsDaily("daily-login"))
	assert.False(t, IsDaily("weekly-tournament"))
}
