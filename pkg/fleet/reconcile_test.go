package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-tools/botfleet/pkg/store"
)

func intPtr(v int) *int { return &v }

func botConfig(token string) store.BotConfig {
	return store.BotConfig{BotToken: token, Model: "gpt-4", Personality: "helpful"}
}

func declared(slots map[int]store.BotConfig) store.DeclaredState {
	return store.DeclaredState{Size: len(slots), Slots: slots}
}

func liveSet(slots ...int) map[int]struct{} {
	live := make(map[int]struct{}, len(slots))
	for _, slot := range slots {
		live[slot] = struct{}{}
	}
	return live
}

func TestPlan_StartsAllFromEmpty(t *testing.T) {
	next := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
	})

	actions := Plan(store.EmptyState(), next, liveSet())

	require.Len(t, actions, 2)
	assert.Equal(t, Action{Op: ActionStart, Slot: 0, Config: botConfig("tok-a")}, actions[0])
	assert.Equal(t, Action{Op: ActionStart, Slot: 1, Config: botConfig("tok-b")}, actions[1])
}

func TestPlan_SteadyStateIsNoop(t *testing.T) {
	state := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
	})

	actions := Plan(state, state, liveSet(0, 1))

	assert.Empty(t, actions)
}

func TestPlan_ContentChangeRestartsOnlyThatSlot(t *testing.T) {
	changed := botConfig("tok-a")
	changed.MsgChance = intPtr(20)

	prev := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
	})
	next := declared(map[int]store.BotConfig{
		0: changed,
		1: botConfig("tok-b"),
	})

	actions := Plan(prev, next, liveSet(0, 1))

	require.Len(t, actions, 2)
	assert.Equal(t, Action{Op: ActionStop, Slot: 0}, actions[0])
	assert.Equal(t, Action{Op: ActionStart, Slot: 0, Config: changed}, actions[1])
}

func TestPlan_RemovedSlotStops(t *testing.T) {
	prev := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
	})
	next := declared(map[int]store.BotConfig{
		1: botConfig("tok-b"),
	})

	actions := Plan(prev, next, liveSet(0, 1))

	require.Len(t, actions, 1)
	assert.Equal(t, Action{Op: ActionStop, Slot: 0}, actions[0])
}

func TestPlan_ShrinkStopsEveryRemovedSlot(t *testing.T) {
	prev := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
		2: botConfig("tok-c"),
	})
	next := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
	})

	actions := Plan(prev, next, liveSet(0, 1, 2))

	require.Len(t, actions, 2)
	assert.Equal(t, Action{Op: ActionStop, Slot: 1}, actions[0])
	assert.Equal(t, Action{Op: ActionStop, Slot: 2}, actions[1])
}

func TestPlan_DeadDeclaredSlotRestarts(t *testing.T) {
	state := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
	})

	// Slot 1's worker exited; the plan brings it back without touching slot 0.
	actions := Plan(state, state, liveSet(0))

	require.Len(t, actions, 1)
	assert.Equal(t, Action{Op: ActionStart, Slot: 1, Config: botConfig("tok-b")}, actions[0])
}

func TestPlan_ChangedButNotLiveStartsWithoutStop(t *testing.T) {
	changed := botConfig("tok-a")
	changed.MsgChance = intPtr(50)

	prev := declared(map[int]store.BotConfig{0: botConfig("tok-a")})
	next := declared(map[int]store.BotConfig{0: changed})

	actions := Plan(prev, next, liveSet())

	require.Len(t, actions, 1)
	assert.Equal(t, Action{Op: ActionStart, Slot: 0, Config: changed}, actions[0])
}

func TestPlan_LiveButNotPreviouslyDeclaredIsLeftAlone(t *testing.T) {
	// A worker started before the first reconcile of a fresh supervisor:
	// declared and live with no previous record means no action.
	next := declared(map[int]store.BotConfig{0: botConfig("tok-a")})

	actions := Plan(store.EmptyState(), next, liveSet(0))

	assert.Empty(t, actions)
}

func TestPlan_RemovedSlotStopsEvenWhenNotLive(t *testing.T) {
	prev := declared(map[int]store.BotConfig{0: botConfig("tok-a")})

	actions := Plan(prev, store.EmptyState(), liveSet())

	require.Len(t, actions, 1)
	assert.Equal(t, Action{Op: ActionStop, Slot: 0}, actions[0])
}

func TestPlan_Deterministic(t *testing.T) {
	next := declared(map[int]store.BotConfig{
		3: botConfig("tok-d"),
		0: botConfig("tok-a"),
		7: botConfig("tok-h"),
	})

	first := Plan(store.EmptyState(), next, liveSet())
	second := Plan(store.EmptyState(), next, liveSet())

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, 0, first[0].Slot)
	assert.Equal(t, 3, first[1].Slot)
	assert.Equal(t, 7, first[2].Slot)
}

func TestPlan_MixedChanges(t *testing.T) {
	changedB := botConfig("tok-b")
	changedB.MsgChance = intPtr(99)

	prev := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: botConfig("tok-b"),
		2: botConfig("tok-c"),
	})
	next := declared(map[int]store.BotConfig{
		0: botConfig("tok-a"),
		1: changedB,
		3: botConfig("tok-d"),
	})

	actions := Plan(prev, next, liveSet(0, 1, 2))

	require.Len(t, actions, 4)
	assert.Equal(t, Action{Op: ActionStop, Slot: 1}, actions[0])
	assert.Equal(t, Action{Op: ActionStart, Slot: 1, Config: changedB}, actions[1])
	assert.Equal(t, Action{Op: ActionStart, Slot: 3, Config: botConfig("tok-d")}, actions[2])
	assert.Equal(t, Action{Op: ActionStop, Slot: 2}, actions[3])
}
