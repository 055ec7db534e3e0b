package provider

// EstimateTokens gives a cheap heuristic token count: roughly four
// ASCII characters per token and 1.5 characters per token for
// everything else (CJK prose dominates the non-ASCII case).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	ascii := 0
	total := 0
	for _, r := range text {
		total++
		if r < 128 {
			ascii++
		}
	}
	nonASCII := total - ascii

	return int(float64(ascii)/4.0 + float64(nonASCII)/1.5)
}

// EstimateMessages estimates tokens across a message list, adding a
// small per-message framing overhead.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
		total += 4
	}
	return total
}
