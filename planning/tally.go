package planning

import "sort"

// TallyResult holds per-option vote counts and the selected winner. Options
// nobody voted for are absent from Counts; callers needing zero-filled
// counts merge with the poll's option list themselves.
type TallyResult struct {
	Counts    map[string]int `json:"counts"`
	Winner    string         `json:"winner,omitempty"`
	HasWinner bool           `json:"has_winner"`
}

// Tally counts the votes in a voter-id -> option-text mapping and selects a
// winner. Voters are visited in lexicographic voter-id order, and a tie goes
// to the option whose first vote in that order appears earliest, so repeated
// calls over the same mapping always agree. An empty mapping yields no
// winner. The input is never mutated.
func Tally(votes map[string]string) TallyResult {
	result := TallyResult{Counts: make(map[string]int, len(votes))}
	if len(votes) == 0 {
		return result
	}

	voters := make([]string, 0, len(votes))
	for voter := range votes {
		voters = append(voters, voter)
	}
	sort.Strings(voters)

	// seen keeps options in first-encounter order for the tie-break.
	var seen []string
	for _, voter := range voters {
		option := votes[voter]
		if _, ok := result.Counts[option]; !ok {
			seen = append(seen, option)
		}
		result.Counts[option]++
	}

	best := seen[0]
	for _, option := range seen[1:] {
		if result.Counts[option] > result.Counts[best] {
			best = option
		}
	}
	result.Winner = best
	result.HasWinner = true
	return result
}
