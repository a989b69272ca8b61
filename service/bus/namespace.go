package bus

import "strings"

// Namespace prefixes every channel the relay subscribes to:
//
//	<ns>.private-user.<userId>
//	<ns>.private-channel.<channelId>
type Namespace string

func (n Namespace) PersonalPattern(userID string) string {
	return string(n) + ".private-user." + userID
}

func (n Namespace) ChannelPattern(channelID string) string {
	return string(n) + ".private-channel." + channelID
}

// ChannelWildcard covers every channel pattern of the namespace.
func (n Namespace) ChannelWildcard() string {
	return string(n) + ".private-channel.*"
}

// ValidSegment reports whether id can be embedded in a pattern without
// widening it. Dots are rejected so NATS token wildcards keep matching, and
// slashes and backslashes so ChannelWildcard still covers every channel under
// glob matching.
func ValidSegment(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, "*?[]>./\\ \t\r\n")
}
