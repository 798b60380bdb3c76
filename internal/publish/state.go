package publish

import (
	"fmt"
	"strings"
)

// State is a step of the publish workflow.
type State int

const (
	StateVerifying State = iota
	StateRateLimiting
	StateDecoding
	StateHashing
	StateReleaseCreate
	StateReleaseReuse
	StateAssetUpload
	StateReleaseRollback
	StateIndexUpdate
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateVerifying:       "verifying",
	StateRateLimiting:    "rate_limiting",
	StateDecoding:        "decoding",
	StateHashing:         "hashing",
	StateReleaseCreate:   "release_create",
	StateReleaseReuse:    "release_reuse",
	StateAssetUpload:     "asset_upload",
	StateReleaseRollback: "release_rollback",
	StateIndexUpdate:     "index_update",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the legal successors of each non-terminal state. Failed
// is reachable from all of them and is not listed.
var transitions = map[State][]State{
	StateVerifying:       {StateRateLimiting},
	StateRateLimiting:    {StateDecoding},
	StateDecoding:        {StateHashing},
	StateHashing:         {StateReleaseCreate},
	StateReleaseCreate:   {StateAssetUpload, StateReleaseReuse},
	StateReleaseReuse:    {StateAssetUpload},
	StateAssetUpload:     {StateIndexUpdate, StateReleaseRollback},
	StateReleaseRollback: {},
	StateIndexUpdate:     {StateDone},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Trail is the ordered list of states a run passed through.
type Trail []State

func (t Trail) Last() State {
	if len(t) == 0 {
		return StateVerifying
	}
	return t[len(t)-1]
}

// Contains reports whether the run entered s.
func (t Trail) Contains(s State) bool {
	for _, v := range t {
		if v == s {
			return true
		}
	}
	return false
}

func (t Trail) String() string {
	names := make([]string, len(t))
	for i, s := range t {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}
