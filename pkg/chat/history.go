package chat

import (
	"encoding/json"
	"os"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"

	openai "github.com/sashabaranov/go-openai"
)

// MaxHistoryMessages caps each bot's conversation log. The system prompt is
// always kept; the oldest exchanges after it are dropped first.
const MaxHistoryMessages = 500

// DefaultHistoryPath is where conversation logs live next to the bot store.
const DefaultHistoryPath = "chat.json"

// History persists one conversation log per bot slot in a single JSON file.
// The file holds an array of logs indexed by slot; every append rewrites
// the whole file, matching the backing store's whole-file write discipline.
type History struct {
	path   string
	logger logging.Logger
}

func NewHistory(path string, logger logging.Logger) *History {
	if path == "" {
		path = DefaultHistoryPath
	}
	return &History{
		path:   path,
		logger: logger,
	}
}

// Messages returns a copy of the slot's conversation log, creating it with
// the given system prompt if the slot has none yet.
func (h *History) Messages(slot int, systemPrompt string) ([]openai.ChatCompletionMessage, error) {
	histories, err := h.load()
	if err != nil {
		return nil, err
	}

	histories = ensureSlot(histories, slot, systemPrompt)

	out := make([]openai.ChatCompletionMessage, len(histories[slot]))
	copy(out, histories[slot])
	return out, nil
}

// Append adds messages to a slot's log and persists the file, enforcing the
// retention cap.
func (h *History) Append(slot int, systemPrompt string, messages ...openai.ChatCompletionMessage) error {
	histories, err := h.load()
	if err != nil {
		return err
	}

	histories = ensureSlot(histories, slot, systemPrompt)
	histories[slot] = capMessages(append(histories[slot], messages...))

	return h.save(histories)
}

// Clear resets a slot's log to just its system prompt. Clearing a slot that
// was never written is a no-op.
func (h *History) Clear(slot int, systemPrompt string) error {
	histories, err := h.load()
	if err != nil {
		return err
	}

	if slot < 0 || slot >= len(histories) {
		return nil
	}

	histories[slot] = []openai.ChatCompletionMessage{systemMessage(systemPrompt)}
	return h.save(histories)
}

func (h *History) load() ([][]openai.ChatCompletionMessage, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to read chat history", err).WithContext("path", h.path)
	}

	var histories [][]openai.ChatCompletionMessage
	if err := json.Unmarshal(data, &histories); err != nil {
		h.logger.Warnf("Chat history is unreadable, starting fresh: %v", err)
		return nil, nil
	}
	return histories, nil
}

func (h *History) save(histories [][]openai.ChatCompletionMessage) error {
	data, err := json.MarshalIndent(histories, "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to encode chat history", err)
	}

	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return errors.NewIOError("failed to write chat history", err).WithContext("path", h.path)
	}
	return nil
}

// ensureSlot pads the histories list so the slot exists, seeding new logs
// with the system prompt.
func ensureSlot(histories [][]openai.ChatCompletionMessage, slot int, systemPrompt string) [][]openai.ChatCompletionMessage {
	for len(histories) <= slot {
		histories = append(histories, []openai.ChatCompletionMessage{systemMessage(systemPrompt)})
	}
	return histories
}

func capMessages(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if len(messages) <= MaxHistoryMessages {
		return messages
	}

	// Keep the system prompt and the most recent exchanges.
	capped := make([]openai.ChatCompletionMessage, 0, MaxHistoryMessages)
	capped = append(capped, messages[0])
	capped = append(capped, messages[len(messages)-(MaxHistoryMessages-1):]...)
	return capped
}

func systemMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: content,
	}
}
