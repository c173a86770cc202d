package sessions

// Window returns the longest suffix of messages whose combined content
// length fits the char budget. The most recent message is always included so
// a turn can never starve itself out of its own prompt.
func Window(messages []Message, budget int) []Message {
	if len(messages) == 0 {
		return nil
	}
	if budget <= 0 {
		return messages[len(messages)-1:]
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		total += len(messages[i].Content)
		if total > budget && start < len(messages) {
			break
		}
		start = i
	}
	return messages[start:]
}

// CharBudget derives the history budget from a model context window: the
// window in tokens scaled to chars, minus prompt and tool definition
// reservations. Floor keeps tiny windows usable.
func CharBudget(contextWindow, promptChars, toolChars int) int {
	// rough 3 chars per token
	budget := contextWindow*3 - promptChars - toolChars
	if budget < 2048 {
		budget = 2048
	}
	return budget
}
