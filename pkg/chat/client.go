package chat

import (
	"context"
	"fmt"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
	"github.com/fleet-tools/botfleet/pkg/store"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the OpenAI-compatible completion endpoint.
const DefaultBaseURL = "https://text.pollinations.ai/openai"

const basePrompt = "You are a Discord AI. Follow character at all times. " +
	"You will receive messages that will be formatted from users in this format: " +
	"<username>(<bot/user>): <message> | Info: <channel> in <guild> (guild)" +
	"\n Do not respond in this format. It's only instructions on how to interpret the format. " +
	"Note that the user may not be talking about you, so do not act as if they are unless " +
	"you see your name in their response or based off context. You may invoke the image generation tool by saying 'Gen: <prompt>' on a new line. " +
	"You can also use the tool 'see_pfp: <username>' to view a user's profile picture if you need to see what they look like or analyze their avatar."

// SystemPrompt builds the system message for a bot from its personality.
func SystemPrompt(personality string) string {
	return fmt.Sprintf("%sThe following is your personality, embody it with full percision and never break character: %s",
		basePrompt, personality)
}

// ManagerOptions configures a chat manager. Zero values pick the public
// endpoint and the default history file.
type ManagerOptions struct {
	BaseURL     string
	APIKey      string
	HistoryPath string
}

// Manager produces chat completions for one bot slot, keeping the slot's
// conversation log current.
type Manager struct {
	client       *openai.Client
	history      *History
	slot         int
	config       store.BotConfig
	systemPrompt string
	logger       logging.Logger
}

func NewManager(options ManagerOptions, slot int, config store.BotConfig, logger logging.Logger) *Manager {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiKey := options.APIKey
	if apiKey == "" {
		// The endpoint does not check credentials but the client requires one.
		apiKey = "dummy"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL

	return &Manager{
		client:       openai.NewClientWithConfig(clientConfig),
		history:      NewHistory(options.HistoryPath, logger),
		slot:         slot,
		config:       config,
		systemPrompt: SystemPrompt(config.Personality),
		logger:       logger,
	}
}

// Record appends context to the conversation log without requesting a
// completion, so the bot sees messages it chose not to answer.
func (m *Manager) Record(text string, imageURLs []string) error {
	return m.history.Append(m.slot, m.systemPrompt, userMessage(text, imageURLs))
}

// Respond requests a completion for the query against the slot's history,
// persists the exchange, and returns the parsed reply.
func (m *Manager) Respond(ctx context.Context, query string, imageURLs []string) (Reply, error) {
	messages, err := m.history.Messages(m.slot, m.systemPrompt)
	if err != nil {
		return Reply{}, err
	}

	current := userMessage(query, imageURLs)

	request := openai.ChatCompletionRequest{
		Model:       m.config.Model,
		Messages:    append(messages, current),
		MaxTokens:   m.config.TokenBudget(),
		Temperature: float32(m.config.SamplingTemperature()),
	}

	completion, err := m.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return Reply{}, errors.NewIOError("chat completion request failed", err).WithContext("model", m.config.Model)
	}
	if len(completion.Choices) == 0 {
		return Reply{}, errors.NewInternalError("chat completion returned no choices", nil)
	}

	response := completion.Choices[0].Message.Content

	if err := m.history.Append(m.slot, m.systemPrompt,
		current,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: response},
	); err != nil {
		m.logger.Warnf("Failed to persist chat exchange, slot: %d, error: %v", m.slot, err)
	}

	return ParseReply(response), nil
}

// ClearHistory resets the slot's conversation log.
func (m *Manager) ClearHistory() error {
	return m.history.Clear(m.slot, m.systemPrompt)
}

// userMessage builds a user message, using multi-part content only when
// image URLs are attached.
func userMessage(text string, imageURLs []string) openai.ChatCompletionMessage {
	if len(imageURLs) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		}
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: text},
	}
	for _, imageURL := range imageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
		})
	}

	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}
