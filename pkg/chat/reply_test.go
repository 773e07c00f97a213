package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply_PlainText(t *testing.T) {
	reply := ParseReply("hello there")

	assert.Equal(t, "hello there", reply.Content)
	assert.Empty(t, reply.ImagePrompt)
	assert.Empty(t, reply.PFPRequests)
}

func TestParseReply_Empty(t *testing.T) {
	reply := ParseReply("")

	assert.Equal(t, "OK", reply.Content)
}

func TestParseReply_SeparatorDropsTrailer(t *testing.T) {
	reply := ParseReply("visible part---hidden reasoning")

	assert.Equal(t, "visible part", reply.Content)
}

func TestParseReply_ImagePrompt(t *testing.T) {
	reply := ParseReply("Here you go!\nGen: a cat wearing a hat")

	assert.Equal(t, "Here you go!", reply.Content)
	assert.Equal(t, "a cat wearing a hat", reply.ImagePrompt)
}

func TestParseReply_ImagePromptDiscardsFollowingLines(t *testing.T) {
	reply := ParseReply("Gen: a sunset\nthis never made it out")

	assert.Equal(t, "OK", reply.Content)
	assert.Equal(t, "a sunset", reply.ImagePrompt)
}

func TestParseReply_PFPRequests(t *testing.T) {
	reply := ParseReply("let me look\nsee_pfp: alice\nsee_pfp: bob\ndone looking")

	assert.Equal(t, "let me look\ndone looking", reply.Content)
	assert.Equal(t, []string{"alice", "bob"}, reply.PFPRequests)
}

func TestParseReply_DirectivesWithLeadingWhitespace(t *testing.T) {
	reply := ParseReply("  Gen: indented prompt")

	assert.Equal(t, "indented prompt", reply.ImagePrompt)
	assert.Equal(t, "OK", reply.Content)
}

func TestParseReply_Mixed(t *testing.T) {
	reply := ParseReply("checking avatars\nsee_pfp: alice\nGen: a portrait\n---ignored")

	assert.Equal(t, "checking avatars", reply.Content)
	assert.Equal(t, "a portrait", reply.ImagePrompt)
	assert.Equal(t, []string{"alice"}, reply.PFPRequests)
}

func TestSystemPrompt_ContainsPersonality(t *testing.T) {
	prompt := SystemPrompt("a grumpy pirate")

	assert.Contains(t, prompt, "a grumpy pirate")
	assert.Contains(t, prompt, "Gen:")
	assert.Contains(t, prompt, "see_pfp:")
}
