package loader

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"ragchat/internal/domain"
)

// Extension is the only file type accepted as a knowledge base.
const Extension = ".txt"

// Parse splits text into facts, one per non-blank line, trimmed and kept in input order.
func Parse(r io.Reader) ([]domain.Fact, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read knowledge base")
	}
	if !utf8.Valid(data) {
		return nil, domain.ErrMalformedUpload
	}
	var facts []domain.Fact
	for _, line := range strings.Split(string(data), "\n") {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		facts = append(facts, domain.Fact{Index: len(facts), Text: text})
	}
	return facts, nil
}

// LoadFile reads and parses a .txt knowledge base from disk.
func LoadFile(path string) ([]domain.Fact, error) {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		return nil, goerr.Wrap(domain.ErrUnsupportedFile, "rejected upload", goerr.V("path", path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open knowledge base", goerr.V("path", path))
	}
	defer f.Close()

	facts, err := Parse(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load knowledge base", goerr.V("path", path))
	}
	return facts, nil
}
