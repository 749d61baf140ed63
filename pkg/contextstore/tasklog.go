// Package contextstore persists per-card execution context: a human-readable
// markdown task log that operators can read and annotate, and a structured
// SQLite conversation store used to resume conversation-mode runs.
package contextstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	instructionsHeader = "## Instructions"
	activityHeader     = "## Activity Log"

	humanMarker = "**Human"
	agentMarker = "**Agent"
)

// ConversationMessage is one turn recovered from the task log.
type ConversationMessage struct {
	Role    string // user or assistant
	Agent   string // agent name for assistant turns
	Content string
}

// TaskLog manages the markdown context files, one per card.
type TaskLog struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewTaskLog creates the task log manager rooted at dir.
func NewTaskLog(dir string) (*TaskLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("context directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create context directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Task log initialized")
	return &TaskLog{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateCardID(cardID string) error {
	if cardID == "" {
		return fmt.Errorf("card id cannot be empty")
	}
	if strings.Contains(cardID, "..") || strings.ContainsAny(cardID, "/\\\x00") {
		return fmt.Errorf("invalid card id: %s", cardID)
	}
	return nil
}

func (t *TaskLog) path(cardID string) string {
	return filepath.Join(t.dir, "card-"+cardID+".md")
}

func (t *TaskLog) lock(cardID string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()

	if l, ok := t.writeLocks[cardID]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.writeLocks[cardID] = l
	return l
}

// InitializeContext creates the context file for a card if it does not
// exist yet. Existing files are left untouched so operator annotations
// survive re-runs.
func (t *TaskLog) InitializeContext(cardID, title, agentName string) error {
	if err := validateCardID(cardID); err != nil {
		return err
	}

	l := t.lock(cardID)
	l.Lock()
	defer l.Unlock()

	path := t.path(cardID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	header := fmt.Sprintf("# %s\n\nCard-ID: %s\nAgent: %s\nCreated: %s\n\n%s\n\n%s\n",
		title, cardID, agentName, time.Now().UTC().Format(time.RFC3339),
		instructionsHeader, activityHeader)

	if err := os.WriteFile(path, []byte(header), 0600); err != nil {
		return fmt.Errorf("failed to create context file: %w", err)
	}

	log.Debug().Str("card_id", cardID).Msg("Context file created")
	return nil
}

func (t *TaskLog) append(cardID, entry string) error {
	if err := validateCardID(cardID); err != nil {
		return err
	}

	l := t.lock(cardID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(t.path(cardID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open context file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to append context entry: %w", err)
	}
	return nil
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// LogStatus appends a status line.
func (t *TaskLog) LogStatus(cardID, status string) error {
	return t.append(cardID, fmt.Sprintf("\n- [%s] status: %s\n", stamp(), status))
}

// LogToolCall appends a tool invocation entry.
func (t *TaskLog) LogToolCall(cardID, tool, args string) error {
	return t.append(cardID, fmt.Sprintf("\n- [%s] tool call: `%s` %s\n", stamp(), tool, args))
}

// LogToolResult appends a tool result entry.
func (t *TaskLog) LogToolResult(cardID, tool string, success bool, summary string) error {
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	return t.append(cardID, fmt.Sprintf("\n- [%s] tool result: `%s` %s %s\n", stamp(), tool, outcome, summary))
}

// LogError appends an error entry.
func (t *TaskLog) LogError(cardID, message string) error {
	return t.append(cardID, fmt.Sprintf("\n- [%s] error: %s\n", stamp(), message))
}

// LogCompletion appends the run's final answer as an agent turn.
func (t *TaskLog) LogCompletion(cardID, agentName, content string) error {
	return t.LogAgentMessage(cardID, agentName, content)
}

// LogAgentMessage appends an agent conversation turn.
func (t *TaskLog) LogAgentMessage(cardID, agentName, content string) error {
	return t.append(cardID, fmt.Sprintf("\n%s %s (%s):**\n%s\n", agentMarker, agentName, stamp(), content))
}

// LogHumanMessage appends a human conversation turn. Humans may also edit
// the file directly using the same marker.
func (t *TaskLog) LogHumanMessage(cardID, content string) error {
	return t.append(cardID, fmt.Sprintf("\n%s (%s):**\n%s\n", humanMarker, stamp(), content))
}

// ReadContext returns the raw context file, or empty when absent.
func (t *TaskLog) ReadContext(cardID string) (string, error) {
	if err := validateCardID(cardID); err != nil {
		return "", err
	}

	data, err := os.ReadFile(t.path(cardID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read context file: %w", err)
	}
	return string(data), nil
}

// GetInstructions returns the operator-authored instructions section, or
// empty when none were written.
func (t *TaskLog) GetInstructions(cardID string) (string, error) {
	raw, err := t.ReadContext(cardID)
	if err != nil || raw == "" {
		return "", err
	}

	idx := strings.Index(raw, instructionsHeader)
	if idx < 0 {
		return "", nil
	}
	section := raw[idx+len(instructionsHeader):]
	if end := strings.Index(section, "\n## "); end >= 0 {
		section = section[:end]
	}
	return strings.TrimSpace(section), nil
}

// ParseConversation extracts the conversation turns from a raw context
// file. Human entries map to user turns, agent entries to assistant turns;
// everything else (status lines, tool entries) is skipped.
func ParseConversation(raw string) []ConversationMessage {
	var messages []ConversationMessage
	var current *ConversationMessage
	var body []string

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(strings.Join(body, "\n"))
			if current.Content != "" {
				messages = append(messages, *current)
			}
			current = nil
			body = nil
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, humanMarker):
			flush()
			current = &ConversationMessage{Role: "user"}

		case strings.HasPrefix(trimmed, agentMarker):
			flush()
			rest := strings.TrimPrefix(trimmed, agentMarker)
			name := rest
			if i := strings.Index(rest, "("); i >= 0 {
				name = rest[:i]
			}
			current = &ConversationMessage{Role: "assistant", Agent: strings.TrimSpace(name)}

		case strings.HasPrefix(trimmed, "- [") || strings.HasPrefix(trimmed, "#"):
			// Log entries and headers end any open turn.
			flush()

		default:
			if current != nil {
				body = append(body, line)
			}
		}
	}
	flush()

	return messages
}
