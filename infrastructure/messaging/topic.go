package messaging

import "strings"

// MatchTopic reports whether a dot-separated routing key matches a topic pattern.
// `*` matches exactly one word, `#` matches zero or more words.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

// MatchAny reports whether routingKey matches at least one pattern.
func MatchAny(patterns []string, routingKey string) bool {
	for _, p := range patterns {
		if MatchTopic(p, routingKey) {
			return true
		}
	}
	return false
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
