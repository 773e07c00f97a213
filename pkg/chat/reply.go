package chat

import "strings"

// Reply is a post-processed model response. Tool directives are stripped
// from the content and surfaced as fields for the bot to act on.
type Reply struct {
	Content     string
	ImagePrompt string
	PFPRequests []string
}

// ParseReply extracts tool directives from a raw model response. Content
// after a "---" separator is dropped, a "Gen: <prompt>" line becomes the
// image prompt (first one wins, the rest of the response is discarded with
// it), and "see_pfp: <username>" lines collect avatar lookups. An empty
// remainder is replaced with "OK" so the bot always has something to say.
func ParseReply(raw string) Reply {
	if idx := strings.Index(raw, "---"); idx >= 0 {
		raw = raw[:idx]
	}

	var reply Reply
	var kept []string

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Gen:") {
			reply.ImagePrompt = strings.TrimSpace(strings.TrimPrefix(trimmed, "Gen:"))
			break
		}
		if strings.HasPrefix(trimmed, "see_pfp:") {
			reply.PFPRequests = append(reply.PFPRequests, strings.TrimSpace(strings.TrimPrefix(trimmed, "see_pfp:")))
			continue
		}
		kept = append(kept, line)
	}

	reply.Content = strings.Join(kept, "\n")
	if reply.Content == "" {
		reply.Content = "OK"
	}
	return reply
}
