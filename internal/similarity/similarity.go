// Package similarity scores how alike two source lines are using edit distance.
package similarity

import "strings"

// Distance returns the Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// dp[i][j] is the distance between ra[:i] and rb[:j]
	dp := make([][]int, len(ra)+1)
	for i := range dp {
		dp[i] = make([]int, len(rb)+1)
		dp[i][0] = i
	}
	for j := 0; j <= len(rb); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}

	return dp[len(ra)][len(rb)]
}

// Score returns a similarity in [0,1] for two strings, ignoring case and
// surrounding whitespace. Identical inputs, including two empty ones, score 1.
func Score(a, b string) float64 {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == nb {
		return 1.0
	}

	longest := max(len([]rune(na)), len([]rune(nb)))
	return 1.0 - float64(Distance(na, nb))/float64(longest)
}
