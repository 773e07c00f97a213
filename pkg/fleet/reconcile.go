package fleet

import (
	"sort"

	"github.com/fleet-tools/botfleet/pkg/store"
)

// ActionOp is a reconciliation action kind.
type ActionOp string

const (
	ActionStart ActionOp = "start"
	ActionStop  ActionOp = "stop"
)

// Action is one start or stop to apply to a slot. A restart appears as a
// Stop followed by a Start for the same slot; the Stop must complete before
// the Start is issued.
type Action struct {
	Op     ActionOp
	Slot   int
	Config store.BotConfig
}

// Plan compares the previously applied declared state, the newly loaded
// declared state, and the set of live slots, and produces the ordered
// actions that bring the fleet in line with the new state.
//
// Per slot:
//   - declared but not live: Start
//   - declared, live, and content changed since last applied: Stop then Start
//   - declared and live with matching content: nothing
//   - previously declared but now absent: Stop, so a fleet shrink never
//     leaks processes
//
// Actions for distinct slots are independent; actions for one slot are in
// program order. Planning the same state twice yields nothing.
func Plan(prev, next store.DeclaredState, live map[int]struct{}) []Action {
	var actions []Action

	for _, slot := range sortedSlots(next.Slots) {
		config := next.Slots[slot]

		if _, isLive := live[slot]; !isLive {
			actions = append(actions, Action{Op: ActionStart, Slot: slot, Config: config})
			continue
		}

		prevConfig, wasDeclared := prev.Slots[slot]
		if wasDeclared && !prevConfig.Equal(config) {
			actions = append(actions,
				Action{Op: ActionStop, Slot: slot},
				Action{Op: ActionStart, Slot: slot, Config: config},
			)
		}
	}

	for _, slot := range sortedSlots(prev.Slots) {
		if _, stillDeclared := next.Slots[slot]; !stillDeclared {
			actions = append(actions, Action{Op: ActionStop, Slot: slot})
		}
	}

	return actions
}

func sortedSlots(slots map[int]store.BotConfig) []int {
	out := make([]int, 0, len(slots))
	for slot := range slots {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}
