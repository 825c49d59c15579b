package chat

// Policy is a pluggable content predicate. It reports whether the text
// violates the pre-hire contact restriction and should be blocked. The
// heuristic can be swapped without touching the send contract.
type Policy func(text string) bool

const (
	phoneDigitThreshold = 7
	yearGroupLen        = 4
)

// ContainsPhoneNumber is the default policy: it flags runs of digits joined
// by common phone separators once they accumulate at least seven digits.
// Standalone four-digit groups that look like years (1900-2099) do not count,
// so "room 204, 2024" passes while "123456789" is flagged.
func ContainsPhoneNumber(text string) bool {
	var groups []string
	var current []rune

	flushGroup := func() {
		if len(current) > 0 {
			groups = append(groups, string(current))
			current = current[:0]
		}
	}
	flushRun := func() bool {
		flushGroup()
		blocked := runHasPhone(groups)
		groups = groups[:0]
		return blocked
	}

	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			current = append(current, r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '+':
			// Separator: the run stays open across it.
			flushGroup()
		default:
			if flushRun() {
				return true
			}
		}
	}
	return flushRun()
}

func runHasPhone(groups []string) bool {
	digits := 0
	for _, g := range groups {
		if len(g) == yearGroupLen && isYearLike(g) {
			continue
		}
		digits += len(g)
		if digits >= phoneDigitThreshold {
			return true
		}
	}
	return false
}

func isYearLike(g string) bool {
	return g >= "1900" && g <= "2099"
}
