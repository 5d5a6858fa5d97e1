package ircd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseChanModeChanges(t *testing.T) {
	changes, unknown := ParseChanModeChanges("+ntk-s", []string{"secretkey"})

	assert.Empty(t, unknown)
	assert.Len(t, changes, 4)

	assert.Equal(t, byte('n'), changes[0].Handler.Letter)
	assert.True(t, changes[0].Add)
	assert.Equal(t, "", changes[0].Param)

	assert.Equal(t, byte('t'), changes[1].Handler.Letter)

	assert.Equal(t, byte('k'), changes[2].Handler.Letter)
	assert.True(t, changes[2].Add)
	assert.Equal(t, "secretkey", changes[2].Param)

	assert.Equal(t, byte('s'), changes[3].Handler.Letter)
	assert.False(t, changes[3].Add)
}

func TestParseChanModeChangesUnknownLetter(t *testing.T) {
	changes, unknown := ParseChanModeChanges("+nZ", nil)
	assert.Len(t, changes, 1)
	assert.Equal(t, []byte{'Z'}, unknown)
}

func TestParseChanModeChangesLimitOnUnsetTakesNoParam(t *testing.T) {
	// +l takes a param only when setting; unsetting it should not
	// consume one.
	changes, _ := ParseChanModeChanges("-l", []string{"30"})
	assert.Len(t, changes, 1)
	assert.Equal(t, "", changes[0].Param)
}

func TestApplyChanModeChangeRequiresRank(t *testing.T) {
	channel := NewChannel("#test")
	actorUser := NewUser("001AAAAAB", nil, MaxNickLength)
	actorUser.setNickLocked("actor")
	m := channel.Join(actorUser, "actor")

	change := ModeChange{Handler: chanModeHandlers['i'], Add: true}
	err := ApplyChanModeChange(channel, change, m, false, false, MaxListItems, CaseMapRFC1459)

	assert.ErrorIs(t, err, ErrInsuffPerms)
	assert.False(t, channel.ModeIsSet(ChanModeInviteOnly))
}

func TestApplyChanModeChangeOverrideBypassesRank(t *testing.T) {
	channel := NewChannel("#test")
	actorUser := NewUser("001AAAAAB", nil, MaxNickLength)
	actorUser.setNickLocked("actor")
	m := channel.Join(actorUser, "actor")

	change := ModeChange{Handler: chanModeHandlers['i'], Add: true}
	err := ApplyChanModeChange(channel, change, m, false, true, MaxListItems, CaseMapRFC1459)

	assert.NoError(t, err)
	assert.True(t, channel.ModeIsSet(ChanModeInviteOnly))
}

func TestApplyChanModeChangePrefixPromotesMember(t *testing.T) {
	channel := NewChannel("#test")
	opUser := NewUser("001AAAAAB", nil, MaxNickLength)
	opUser.setNickLocked("op")
	opM := channel.Join(opUser, "op")
	opM.Rank = RankOp

	targetUser := NewUser("001AAAAAC", nil, MaxNickLength)
	targetUser.setNickLocked("target")
	targetM := channel.Join(targetUser, "target")

	change := ModeChange{Handler: chanModeHandlers['v'], Add: true, Param: "target"}
	err := ApplyChanModeChange(channel, change, opM, false, false, MaxListItems, CaseMapRFC1459)

	assert.NoError(t, err)
	assert.Equal(t, uint8(RankVoice), targetM.Rank)
}

func TestResolveLimitConflictNoPriorAssertion(t *testing.T) {
	got := ResolveLimitConflict(0, time.Time{}, 42, time.Now())
	assert.Equal(t, 42, got)
}

func TestResolveLimitConflictEqualTSKeepsLarger(t *testing.T) {
	ts := time.Now()
	assert.Equal(t, 50, ResolveLimitConflict(50, ts, 30, ts))
	assert.Equal(t, 50, ResolveLimitConflict(30, ts, 50, ts))
}

func TestResolveLimitConflictOlderTSWins(t *testing.T) {
	older := time.Now()
	newer := older.Add(time.Second)
	// Incoming is older than what's currently recorded: the older
	// assertion is authoritative regardless of value.
	assert.Equal(t, 10, ResolveLimitConflict(99, newer, 10, older))
	// Incoming is newer than what's currently recorded: current wins.
	assert.Equal(t, 99, ResolveLimitConflict(99, older, 10, newer))
}
