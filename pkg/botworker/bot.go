package botworker

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/fleet-tools/botfleet/pkg/chat"
	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
	"github.com/fleet-tools/botfleet/pkg/store"

	"github.com/bwmarrin/discordgo"
)

// replyChunkSize keeps replies under Discord's message length limit.
const replyChunkSize = 1900

// Bot is one fleet worker: a Discord client for a single slot that answers
// messages through the chat manager. It owns no fleet state; the
// supervisor starts and stops the whole process.
type Bot struct {
	slot    int
	config  store.BotConfig
	chat    *chat.Manager
	session *discordgo.Session
	logger  logging.Logger
}

func New(slot int, config store.BotConfig, chatManager *chat.Manager, logger logging.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + config.BotToken)
	if err != nil {
		return nil, errors.NewValidationError("failed to create Discord session", err).WithContext("slot", slot)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	bot := &Bot{
		slot:    slot,
		config:  config,
		chat:    chatManager,
		session: session,
		logger:  logger,
	}

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)

	return bot, nil
}

// Run connects to Discord and blocks until ctx is cancelled, then closes
// the session.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return errors.NewIOError("failed to connect to Discord", err).WithContext("slot", b.slot)
	}

	<-ctx.Done()

	b.logger.Infof("Shutting down, slot: %d", b.slot)
	if err := b.session.Close(); err != nil {
		return errors.NewIOError("failed to close Discord session", err).WithContext("slot", b.slot)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Infof("Bot ready as %s, slot: %d", event.User.Username, b.slot)
	b.logger.Infof("Invite URL: https://discord.com/oauth2/authorize?client_id=%s&permissions=8&integration_type=0&scope=bot",
		event.User.ID)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	voiceMode, voiceName, content := parseVoiceDirective(m.Content)

	respond := voiceMode || b.shouldRespond(s, m)

	formatted := b.formatMessage(s, m, content)
	imageURLs := imageAttachments(m.Attachments)

	if !respond {
		// Record silently observed messages so later replies have context.
		if err := b.chat.Record(formatted, imageURLs); err != nil {
			b.logger.Warnf("Failed to record message, slot: %d, error: %v", b.slot, err)
		}
		return
	}

	b.respond(s, m, formatted, imageURLs, voiceMode, voiceName)
}

// shouldRespond answers when the bot is mentioned, named, or by random
// chance from the slot's msg_chance percentage.
func (b *Bot) shouldRespond(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	for _, mention := range m.Mentions {
		if mention.ID == s.State.User.ID {
			return true
		}
	}

	if strings.Contains(strings.ToLower(m.Content), strings.ToLower(s.State.User.Username)) {
		return true
	}

	return rand.Intn(100)+1 <= b.config.Chance()
}

func (b *Bot) respond(s *discordgo.Session, m *discordgo.MessageCreate, formatted string, imageURLs []string, voiceMode bool, voiceName string) {
	ctx := context.Background()

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		b.logger.Debugf("Failed to send typing indicator, slot: %d, error: %v", b.slot, err)
	}

	reply, err := b.chat.Respond(ctx, formatted, imageURLs)
	if err != nil {
		b.logger.Errorf("Failed to get response, slot: %d, error: %v", b.slot, err)
		b.reply(s, m, "Sorry, I encountered an error while processing your message.")
		return
	}

	if reply.Content != "" {
		b.sendChunked(s, m, reply.Content)
	}

	for _, username := range reply.PFPRequests {
		b.describeAvatar(ctx, s, m, username)
	}

	if reply.ImagePrompt != "" {
		b.sendGeneratedImage(ctx, s, m, reply.ImagePrompt)
	}

	if voiceMode && reply.Content != "" {
		b.sendVoice(ctx, s, m, reply.Content, voiceName)
	}
}

// sendChunked replies with the first chunk and sends the rest as plain
// channel messages.
func (b *Bot) sendChunked(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	for i, chunk := range chunkMessage(content) {
		if i == 0 {
			b.reply(s, m, chunk)
			continue
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			b.logger.Errorf("Failed to send message chunk, slot: %d, error: %v", b.slot, err)
			return
		}
	}
}

// chunkMessage splits content into pieces under the message length limit,
// backing off to a rune boundary so a multi-byte character is never torn
// across two messages.
func chunkMessage(content string) []string {
	var chunks []string
	for len(content) > replyChunkSize {
		cut := replyChunkSize
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		if cut == 0 {
			// Not valid UTF-8 anyway; cut at the byte limit.
			cut = replyChunkSize
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if len(content) > 0 {
		chunks = append(chunks, content)
	}
	return chunks
}

func (b *Bot) reply(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	_, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	if err != nil {
		b.logger.Errorf("Failed to reply, slot: %d, error: %v", b.slot, err)
	}
}

func (b *Bot) sendGeneratedImage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, prompt string) {
	data, err := chat.GenerateImage(ctx, prompt)
	if err != nil {
		b.logger.Errorf("Failed to generate image, slot: %d, error: %v", b.slot, err)
		if _, err := s.ChannelMessageSend(m.ChannelID, "I generated an image but couldn't send it."); err != nil {
			b.logger.Errorf("Failed to send image failure notice, slot: %d, error: %v", b.slot, err)
		}
		return
	}

	_, err = s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        "generated_image.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(data),
		}},
	})
	if err != nil {
		b.logger.Errorf("Failed to send generated image, slot: %d, error: %v", b.slot, err)
	}
}

func (b *Bot) sendVoice(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, text string, voice string) {
	data, err := chat.GenerateVoice(ctx, text, voice)
	if err != nil {
		b.logger.Errorf("Failed to generate voice, slot: %d, error: %v", b.slot, err)
		if _, err := s.ChannelMessageSend(m.ChannelID,
			fmt.Sprintf("Sorry, I couldn't generate the voice response with voice '%s'.", voice)); err != nil {
			b.logger.Errorf("Failed to send voice failure notice, slot: %d, error: %v", b.slot, err)
		}
		return
	}

	_, err = s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("🔊 Voice response (%s):", voice),
		Files: []*discordgo.File{{
			Name:        "response.mp3",
			ContentType: "audio/mpeg",
			Reader:      bytes.NewReader(data),
		}},
	})
	if err != nil {
		b.logger.Errorf("Failed to send voice response, slot: %d, error: %v", b.slot, err)
	}
}

// describeAvatar looks a user up by name in the guild and asks the model
// to describe their avatar.
func (b *Bot) describeAvatar(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, username string) {
	member := findMember(s, m.GuildID, username)
	if member == nil {
		if _, err := s.ChannelMessageSend(m.ChannelID,
			fmt.Sprintf("Couldn't find user '%s' in this server.", username)); err != nil {
			b.logger.Errorf("Failed to send member lookup notice, slot: %d, error: %v", b.slot, err)
		}
		return
	}

	displayName := member.User.Username
	if member.Nick != "" {
		displayName = member.Nick
	}

	query := fmt.Sprintf("Here is %s's profile picture. Analyze what you see.", displayName)
	reply, err := b.chat.Respond(ctx, query, []string{member.AvatarURL("")})
	if err != nil {
		b.logger.Errorf("Failed to describe avatar, slot: %d, user: %s, error: %v", b.slot, username, err)
		return
	}

	if reply.Content != "" {
		if _, err := s.ChannelMessageSend(m.ChannelID, reply.Content); err != nil {
			b.logger.Errorf("Failed to send avatar description, slot: %d, error: %v", b.slot, err)
		}
	}
}

func findMember(s *discordgo.Session, guildID string, username string) *discordgo.Member {
	if guildID == "" {
		return nil
	}

	guild, err := s.State.Guild(guildID)
	if err != nil {
		return nil
	}

	lowered := strings.ToLower(username)
	for _, member := range guild.Members {
		if strings.ToLower(member.User.Username) == lowered ||
			(member.Nick != "" && strings.ToLower(member.Nick) == lowered) {
			return member
		}
	}
	return nil
}

// formatMessage renders an inbound message the way the system prompt says
// messages arrive.
func (b *Bot) formatMessage(s *discordgo.Session, m *discordgo.MessageCreate, content string) string {
	guildName := "Direct Message"
	if guild, err := s.State.Guild(m.GuildID); err == nil && guild != nil {
		guildName = guild.Name
	}

	channelName := "DM"
	if channel, err := s.State.Channel(m.ChannelID); err == nil && channel != nil && channel.Name != "" {
		channelName = channel.Name
	}

	kind := "user"
	if m.Author.Bot {
		kind = "bot"
	}

	return fmt.Sprintf("%s(%s): %s | Info: %s in %s (guild)",
		m.Author.Username, kind, content, channelName, guildName)
}

// imageAttachments collects attachment URLs that look like images.
func imageAttachments(attachments []*discordgo.MessageAttachment) []string {
	var urls []string
	for _, attachment := range attachments {
		lowered := strings.ToLower(attachment.Filename)
		for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
			if strings.HasSuffix(lowered, ext) {
				urls = append(urls, attachment.URL)
				break
			}
		}
	}
	return urls
}

// parseVoiceDirective detects a "/voice" directive: a bare trailing
// "/voice" asks for the default voice, "/voice <name>" anywhere picks a
// voice by name. The directive is stripped from the returned content.
func parseVoiceDirective(content string) (bool, string, string) {
	trimmed := strings.TrimSpace(content)
	lowered := strings.ToLower(trimmed)

	if strings.HasSuffix(lowered, "/voice") {
		return true, chat.DefaultVoice, strings.TrimSpace(trimmed[:len(trimmed)-len("/voice")])
	}

	if !strings.Contains(lowered, "/voice ") {
		return false, "", trimmed
	}

	words := strings.Fields(trimmed)
	var kept []string
	voiceName := ""
	for i := 0; i < len(words); i++ {
		if strings.ToLower(words[i]) == "/voice" && i+1 < len(words) {
			voiceName = words[i+1]
			i++
			continue
		}
		kept = append(kept, words[i])
	}

	if voiceName == "" {
		return false, "", trimmed
	}
	return true, voiceName, strings.Join(kept, " ")
}
