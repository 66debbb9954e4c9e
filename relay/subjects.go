package relay

import (
	"fmt"
	"strings"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// Subject addressing: "{namespace}.{channel}.{signal}". The channel
// segment enables transport-level filtering without deserializing the
// payload; the namespace segment isolates bus instances.

// Subject returns the concrete subject for a signal on a channel.
func Subject(namespace string, ch envelope.Channel, signal string) string {
	return fmt.Sprintf("%s.%s.%s", namespace, ch, signal)
}

// SubjectFilter returns the subscription filter for a topic pattern.
// Patterns follow subject wildcard rules: "*" matches any one signal,
// ">" matches the rest of the subject.
func SubjectFilter(namespace string, ch envelope.Channel, pattern string) string {
	if pattern == "" {
		pattern = "*"
	}
	return fmt.Sprintf("%s.%s.%s", namespace, ch, pattern)
}

// DeadLetterSubject is where exhausted REFLEX envelopes are announced
// for operator tooling.
func DeadLetterSubject(namespace string) string {
	return namespace + ".deadletter"
}

// SignalFromSubject extracts the signal token from a bus subject, or
// "" when the subject doesn't follow bus addressing.
func SignalFromSubject(subject string) string {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// MatchSignal reports whether a topic pattern covers a signal name.
// Signals are single subject tokens, so only the single-token and
// full-tail wildcards apply.
func MatchSignal(pattern, signal string) bool {
	return pattern == "" || pattern == "*" || pattern == ">" || pattern == signal
}

// streamName returns the TROPHIC stream name for a namespace.
func streamName(namespace string) string {
	return strings.ToUpper(strings.ReplaceAll(namespace, "-", "_")) + "_TROPHIC"
}

// lvcBucket returns the last-value-cache bucket name for a namespace.
func lvcBucket(namespace string) string {
	return namespace + "-lvc"
}

// LVCKey returns the last-value-cache key for a channel and signal.
func LVCKey(ch envelope.Channel, signal string) string {
	return fmt.Sprintf("%s.%s", ch, signal)
}
