package assistant

// Message is a chat-style turn in the caller's history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// The backend's nested conversation-state request shape.

type generateRequest struct {
	ConversationState conversationState `json:"conversationState"`
}

type conversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  historyEntry   `json:"currentMessage"`
	History         []historyEntry `json:"history"`
}

type historyEntry struct {
	UserInputMessage         *userInputMessage `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *assistantReply   `json:"assistantResponseMessage,omitempty"`
}

type userInputMessage struct {
	Content string   `json:"content"`
	ModelID string   `json:"modelId"`
	Origin  string   `json:"origin"`
	Context struct{} `json:"userInputMessageContext"`
}

type assistantReply struct {
	Content string `json:"content"`
}

// buildConversationState folds a chat message list into the backend shape:
// system content is prepended to the first user turn and then discarded,
// completed user/assistant pairs become history entries, and the trailing
// unpaired user message becomes the current message.
func buildConversationState(messages []Message, modelID, conversationID string) conversationState {
	history := []historyEntry{}
	systemPrompt := ""
	var current *historyEntry

	newUserEntry := func(content string) *historyEntry {
		return &historyEntry{
			UserInputMessage: &userInputMessage{
				Content: content,
				ModelID: modelID,
				Origin:  "AI_EDITOR",
			},
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemPrompt = msg.Content
		case "user":
			if current != nil {
				// Unpaired user turn; close it out as history.
				history = append(history, *current)
			}
			content := msg.Content
			if systemPrompt != "" {
				content = systemPrompt + "\n\n" + content
				systemPrompt = ""
			}
			current = newUserEntry(content)
		case "assistant":
			if current != nil {
				current.AssistantResponseMessage = &assistantReply{Content: msg.Content}
				history = append(history, *current)
				current = nil
			}
		}
	}

	if current == nil {
		// No trailing user turn: re-send the last message content so the
		// backend has something to answer.
		content := ""
		if len(messages) > 0 {
			content = messages[len(messages)-1].Content
		}
		if systemPrompt != "" {
			content = systemPrompt + "\n\n" + content
		}
		current = newUserEntry(content)
	}

	return conversationState{
		ChatTriggerType: "MANUAL",
		ConversationID:  conversationID,
		CurrentMessage:  *current,
		History:         history,
	}
}
