package domain

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrNotReady is returned when a query arrives before any knowledge base is loaded.
	ErrNotReady = goerr.New("knowledge base not loaded")
	// ErrEmptyHistory is returned when exporting a chat history with no turns.
	ErrEmptyHistory = goerr.New("chat history is empty")
	// ErrMalformedUpload is returned for uploads that are not valid UTF-8 text.
	ErrMalformedUpload = goerr.New("knowledge base is not valid UTF-8 text")
	// ErrUnsupportedFile is returned for uploads without a .txt extension.
	ErrUnsupportedFile = goerr.New("only .txt knowledge bases are supported")
	// ErrEmptyKnowledgeBase is returned when an upload contains no non-blank lines.
	ErrEmptyKnowledgeBase = goerr.New("knowledge base has no facts")
	ErrEmptyQuestion      = goerr.New("question is empty")
	ErrEmptyIndex         = goerr.New("cannot build an index from zero vectors")
	ErrDimensionMismatch  = goerr.New("vector dimension mismatch")
)
