// Package tokencount provides deterministic token estimation for usage
// accounting when a provider response carries no usage block. Uses a
// character-based heuristic (~4 chars per token for English), which is
// sufficient for budgeting and rate limiting.
package tokencount

// Estimate returns ceil(len(s)/4) with a floor of 1 for non-empty text.
func Estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// EstimateExchange estimates total tokens for a prompt/completion pair,
// matching the wire contract ceil((len(prompt)+len(content))/4).
func EstimateExchange(prompt, content string) int {
	n := (len(prompt) + len(content) + 3) / 4
	return max(n, 1)
}
