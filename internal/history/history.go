package history

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"ragchat/internal/domain"
)

// DefaultExportPath is where Save writes when no path is given.
const DefaultExportPath = "chat_history.txt"

// History is an append-only list of chat turns that can only be cleared as a whole.
type History struct {
	mu    sync.RWMutex
	turns []domain.ChatTurn
}

func New() *History { return &History{} }

// Append records a turn at the end of the history.
func (h *History) Append(turn domain.ChatTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// Clear drops every recorded turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of the recorded turns, oldest first.
func (h *History) Turns() []domain.ChatTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]domain.ChatTurn(nil), h.turns...)
}

// Format renders turns as "Q: <question>\n<answer>" records separated by blank lines.
func Format(turns []domain.ChatTurn) string {
	records := make([]string, len(turns))
	for i, t := range turns {
		records[i] = "Q: " + t.Question + "\n" + t.Answer
	}
	return strings.Join(records, "\n\n")
}

// Export writes the formatted history to w. It writes nothing and returns
// domain.ErrEmptyHistory when there is no content.
func (h *History) Export(w io.Writer) error {
	text := Format(h.Turns())
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyHistory
	}
	if _, err := io.WriteString(w, text); err != nil {
		return goerr.Wrap(err, "failed to write chat history")
	}
	return nil
}

// Save exports the history to path, or DefaultExportPath when path is empty.
// No file is created for an empty history.
func (h *History) Save(path string) (string, error) {
	if path == "" {
		path = DefaultExportPath
	}
	var buf bytes.Buffer
	if err := h.Export(&buf); err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", goerr.Wrap(err, "failed to create export directory", goerr.V("path", path))
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", goerr.Wrap(err, "failed to save chat history", goerr.V("path", path))
	}
	return path, nil
}
