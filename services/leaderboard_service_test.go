package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLeaderboardLiveRanking(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	now := time.Now().UTC()
	env.createLink(t, period.ID, "0xalice", "0xa1", 100, now)
	env.createLink(t, period.ID, "0xalice", "0xa2", 200, now)
	env.createLink(t, period.ID, "0xbob", "0xb1", 50, now)
	env.points.points = map[string]int64{"0xalice": 300, "0xbob": 1000}

	rankings, err := env.leaderboard.GetLeaderboard(period.ID, 10)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	// Bob outranks Alice on trading points alone.
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, "0xbob", rankings[0].Address)
	assert.Equal(t, "0xalice", rankings[1].Address)
	assert.Equal(t, int64(2), rankings[1].Referrals)
}

func TestGetLeaderboardBonusPointsCountTowardRank(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	now := time.Now().UTC()
	env.createLink(t, period.ID, "0xalice", "0xa1", 600, now)
	env.createLink(t, period.ID, "0xbob", "0xb1", 10, now)
	env.points.points = map[string]int64{"0xalice": 100, "0xbob": 500}

	// Materialize Alice's milestone awards: 100 + 250 + 500.
	_, err := env.bonuses.ComputeBonus("0xalice")
	require.NoError(t, err)

	rankings, err := env.leaderboard.GetLeaderboard(period.ID, 10)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	// Alice: 100 trading + 850 bonus beats Bob's 500.
	assert.Equal(t, "0xalice", rankings[0].Address)
	assert.Equal(t, int64(850), rankings[0].BonusPoints)
}

func TestGetLeaderboardTieBreaksOnAddress(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	now := time.Now().UTC()
	env.createLink(t, period.ID, "0xbbb", "0x1", 0, now)
	env.createLink(t, period.ID, "0xaaa", "0x2", 0, now)
	env.points.points = map[string]int64{"0xaaa": 100, "0xbbb": 100}

	rankings, err := env.leaderboard.GetLeaderboard(period.ID, 10)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, "0xaaa", rankings[0].Address)
	assert.Equal(t, "0xbbb", rankings[1].Address)
}

func TestGetLeaderboardLimitClamp(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	now := time.Now().UTC()
	env.createLink(t, period.ID, "0xalice", "0xa1", 0, now)
	env.createLink(t, period.ID, "0xbob", "0xb1", 0, now)
	env.points.points = map[string]int64{"0xalice": 200, "0xbob": 100}

	rankings, err := env.leaderboard.GetLeaderboard(period.ID, 1)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, "0xalice", rankings[0].Address)

	// Out-of-range limits fall back to the default rather than erroring.
	rankings, err = env.leaderboard.GetLeaderboard(period.ID, -5)
	require.NoError(t, err)
	assert.Len(t, rankings, 2)
}

func TestCompletedPeriodServesFrozenArchive(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))
	env.createLink(t, period.ID, "0xalice", "0xa1", 100, time.Now().UTC())
	env.points.points = map[string]int64{"0xalice": 300}

	_, err := env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)

	// Trading points move on after completion; the archive must not.
	env.points.points["0xalice"] = 9999

	rankings, err := env.leaderboard.GetLeaderboard(period.ID, 10)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, int64(300), rankings[0].Points)
}

func TestBuildArchiveRejectsSecondSnapshot(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	_, err := env.leaderboard.BuildArchive(env.db, period)
	require.NoError(t, err)

	_, err = env.leaderboard.BuildArchive(env.db, period)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestArchiveStats(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))

	now := time.Now().UTC()
	env.createLink(t, period.ID, "0xalice", "0xa1", 150, now)
	env.createLink(t, period.ID, "0xalice", "0xa2", 0, now)
	env.createLink(t, period.ID, "0xbob", "0xb1", 0, now)
	env.points.points = map[string]int64{"0xalice": 100, "0xbob": 50}

	_, err := env.bonuses.ComputeBonus("0xalice") // 100 + 100 + 250 across two links
	require.NoError(t, err)

	_, err = env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)

	archive, err := env.leaderboard.GetArchive(period.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), archive.Stats.TotalReferrals)
	assert.Equal(t, int64(2), archive.Stats.TotalUsers)
	assert.Equal(t, int64(450), archive.Stats.TotalBonusAwarded)
	assert.Equal(t, "0xalice", archive.Stats.TopReferrer)
	assert.Equal(t, period.ResetMode, archive.ResetMode)
	require.NotNil(t, archive.PeriodEnd)
}

func TestListArchives(t *testing.T) {
	env := newTestEnv(t)

	first := env.createActivePeriod(t, milestoneSpec("one"))
	_, err := env.periods.CompletePeriod(first.ID)
	require.NoError(t, err)

	second := env.createActivePeriod(t, milestoneSpec("two"))
	_, err = env.periods.CompletePeriod(second.ID)
	require.NoError(t, err)

	archives, err := env.leaderboard.ListArchives()
	require.NoError(t, err)
	require.Len(t, archives, 2)
}

func TestGetLeaderboardPointsOutage(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quest"))
	env.createLink(t, period.ID, "0xalice", "0xa1", 0, time.Now().UTC())
	env.points.err = errors.New("points service down")

	_, err := env.leaderboard.GetLeaderboard(period.ID, 10)
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
}

func TestGetLeaderboardUnknownPeriod(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.leaderboard.GetLeaderboard(4242, 10)
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestEmptyPeriodArchivesEmptyRankings(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, milestoneSpec("quiet season"))

	_, err := env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)

	archive, err := env.leaderboard.GetArchive(period.ID)
	require.NoError(t, err)
	assert.Empty(t, archive.Rankings)
	assert.Zero(t, archive.Stats.TotalUsers)
	assert.Empty(t, archive.Stats.TopReferrer)
}
