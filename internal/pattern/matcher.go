package pattern

import (
	"math"

	"github.com/nightwatch/sentrycam/pkg/types"
)

// matchAtAnchor runs the subsequence scan starting at state-history index
// anchorIdx, mirroring find_mov_ptn_in_state_history_at_idx from the
// reference implementation almost line for line: pattern steps are matched
// against history entries in order, a concrete step always advances the
// history cursor, a NotState step never does (it is resolved lazily,
// against either the remaining history or, failing that, elapsed time).
func matchAtAnchor(pattern []types.PatternStep, hist []types.StateHistoryStep, anchorIdx int, now float64) (outcome PatternMatch, ptnIdx int, prevMatchTs float64) {
	shistIdx := anchorIdx
	prevMatchIdx := -1

	for ptnIdx < len(pattern) && shistIdx < len(hist) {
		ptnStep := pattern[ptnIdx]
		shistStep := hist[shistIdx]

		ns, isNotState := ptnStep.(types.NotState)
		if !isNotState {
			if statesEqual(ptnStep, shistStep.State) {
				if ptnIdx > 0 && shistIdx > 0 {
					if prevNS, ok := pattern[ptnIdx-1].(types.NotState); ok {
						if findNotStateNear(prevNS, hist, shistStep.Ts, shistIdx-1, prevMatchIdx+1) {
							ptnIdx = 0
							break
						}
					}
				}
				ptnIdx++
				prevMatchIdx = shistIdx
				prevMatchTs = shistStep.Ts
			}
			shistIdx++
		} else {
			if ptnIdx == len(pattern)-1 {
				if findNotStateNear(ns, hist, prevMatchTs, len(hist)-1, shistIdx) {
					ptnIdx = 0
					break
				}
			}
			ptnIdx++
		}
	}

	outcome = classify(pattern, ptnIdx, prevMatchTs, now)
	return outcome, ptnIdx, prevMatchTs
}

// classify turns the final pattern cursor position into a three-valued
// result, exactly as the tail of find_mov_ptn_in_state_history_at_idx does.
func classify(pattern []types.PatternStep, ptnIdx int, prevMatchTs, now float64) PatternMatch {
	if ptnIdx == 0 {
		return types.NotMatched
	}
	if ptnIdx == 1 {
		if _, ok := pattern[0].(types.NotState); ok {
			return types.NotMatched
		}
	}
	if ptnIdx > 0 && ptnIdx <= len(pattern)-1 {
		if ns, ok := pattern[ptnIdx].(types.NotState); ok && ptnIdx == len(pattern)-1 {
			if now-prevMatchTs > ns.Duration {
				return types.Matched
			}
		}
		return types.PartialMatch
	}
	return types.Matched
}

// findNotStateNear scans hist[toIdx..fromIdx] (inclusive, descending) for an
// occurrence of ns.State within ns.Duration seconds of refTs — mirroring
// find_not_state_before_step. Used both to veto a concrete match that was
// preceded by a forbidden intervening state, and to veto a trailing NotState
// whose forbidden state shows up anywhere after the prior match.
func findNotStateNear(ns types.NotState, hist []types.StateHistoryStep, refTs float64, fromIdx, toIdx int) bool {
	for i := fromIdx; i >= toIdx; i-- {
		if i < 0 || i >= len(hist) {
			continue
		}
		step := hist[i]
		if statesEqual(ns.State, step.State) && math.Abs(refTs-step.Ts) <= ns.Duration {
			return true
		}
	}
	return false
}

func statesEqual(a, b any) bool {
	return a == b
}

// MatchPattern searches the entire history for the pattern as a subsequence,
// trying every possible anchor position and taking the most-progressed
// outcome, mirroring find_mov_ptn_in_state_history.
func MatchPattern(pattern []types.PatternStep, hist []types.StateHistoryStep, now float64) PatternMatch {
	partialFound := false
	for shistIdx := 0; shistIdx < len(hist); shistIdx++ {
		result, _, _ := matchAtAnchor(pattern, hist, shistIdx, now)
		switch result {
		case types.Matched:
			return types.Matched
		case types.PartialMatch:
			partialFound = true
		}
	}
	if partialFound {
		return types.PartialMatch
	}
	return types.NotMatched
}

// PatternMatch is re-exported here for package-local readability; callers
// outside the package use types.PatternMatch directly.
type PatternMatch = types.PatternMatch

// WantedStates returns the set of states this pattern is currently waiting
// for against a virtual "now" of ts: the union, over every anchor whose scan
// produced a PARTIAL_MATCH, of the pattern step at its final cursor position
// (and that step's predecessor too, when the predecessor is itself a
// NotState — both are "in demand" simultaneously).
func WantedStates(pattern []types.PatternStep, hist []types.StateHistoryStep, ts float64) []types.PatternStep {
	var wanted []types.PatternStep
	seen := make(map[int]bool)
	for shistIdx := 0; shistIdx < len(hist); shistIdx++ {
		result, ptnIdx, _ := matchAtAnchor(pattern, hist, shistIdx, ts)
		if result != types.PartialMatch {
			continue
		}
		if ptnIdx < 0 || ptnIdx >= len(pattern) {
			continue
		}
		if !seen[ptnIdx] {
			seen[ptnIdx] = true
			wanted = append(wanted, pattern[ptnIdx])
		}
		if ptnIdx > 0 {
			if _, ok := pattern[ptnIdx-1].(types.NotState); ok && !seen[ptnIdx-1] {
				seen[ptnIdx-1] = true
				wanted = append(wanted, pattern[ptnIdx-1])
			}
		}
	}
	return wanted
}
