package slack

import (
	"bytes"
	"io"
	"strings"
)

func newReusableReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}

// parseChannelID recovers the Slack channel id from a platformKey of the
// form "slack:<channelID>:<userID>".
func parseChannelID(platformKey string) string {
	parts := strings.Split(platformKey, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
