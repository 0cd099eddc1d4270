package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"ragchat/internal/config"
	"ragchat/internal/embedding"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/logger"
	"ragchat/internal/session"
	"ragchat/internal/summarizer"
	"ragchat/internal/tui"
	"ragchat/internal/watcher"
)

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		cfgPath string
		watch   bool
	)

	app := &cli.Command{
		Name:      "ragchat",
		Usage:     "Ask questions against a plain-text knowledge base",
		ArgsUsage: "[knowledge.txt]",
		Writer:    stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to YAML config file (uses ./config.yaml or ~/.config/ragchat/config.yaml if not provided)",
				Sources:     cli.EnvVars("RAGCHAT_CONFIG"),
				Destination: &cfgPath,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Aliases:     []string{"w"},
				Usage:       "Re-index the knowledge base whenever the file changes",
				Sources:     cli.EnvVars("RAGCHAT_WATCH"),
				Destination: &watch,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runChat(ctx, cfgPath, cmd.Args().First(), watch)
		},
		Commands: []*cli.Command{
			cmdQuery(&cfgPath, stdout),
		},
	}
	return app.Run(ctx, args)
}

func cmdQuery(cfgPath *string, stdout io.Writer) *cli.Command {
	var (
		kbPath string
		topK   int
	)
	return &cli.Command{
		Name:      "query",
		Usage:     "Print the facts most relevant to a question and exit",
		ArgsUsage: "QUESTION...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kb",
				Usage:       "Knowledge base .txt file",
				Required:    true,
				Destination: &kbPath,
			},
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "Number of facts to return (defaults to retrieval.top_k)",
				Destination: &topK,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(question) == "" {
				return goerr.New("a question is required")
			}
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if topK > 0 {
				cfg.Retrieval.TopK = topK
			}
			sess, closer, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer closer()

			if _, err := sess.UploadFile(ctx, kbPath); err != nil {
				return err
			}
			ans, err := sess.Ask(ctx, question)
			if err != nil {
				return err
			}
			for i, r := range ans.Results {
				fmt.Fprintf(stdout, "%d. %s (%.3f)\n", i+1, r.Fact.Text, r.Score)
			}
			return nil
		},
	}
}

func runChat(ctx context.Context, cfgPath, kbPath string, watch bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	sess, closer, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer closer()

	m := tui.New(ctx, sess, cfg.History.ExportPath)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if kbPath != "" {
		// Loaded through the program so the first upload shows up in the status line
		go p.Send(tui.ReloadMsg{Path: kbPath})

		if watch {
			w, err := watcher.New(logger.Default())
			if err != nil {
				return err
			}
			defer w.Close()

			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			events, err := w.Watch(watchCtx, kbPath)
			if err != nil {
				return err
			}
			go func() {
				for path := range events {
					logger.Default().Info("knowledge base changed", "path", path)
					p.Send(tui.ReloadMsg{Path: path})
				}
			}()
		}
	} else if watch {
		return goerr.New("--watch needs a knowledge base file argument")
	}

	if _, err := p.Run(); err != nil {
		return goerr.Wrap(err, "terminal UI failed")
	}
	return nil
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// newSession wires logging, the embedder and the summarizer into a session.
// The returned func releases the log file.
func newSession(cfg *config.AppConfig) (*session.Session, func(), error) {
	l, closer, err := logger.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(l)

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		closer()
		return nil, nil, err
	}
	sess := session.New(emb,
		session.WithTopK(cfg.Retrieval.TopK),
		session.WithSummarizer(summarizer.NewFrequency(), cfg.Summarizer.MaxFacts),
		session.WithLogger(l),
	)
	l.Info("session started",
		slog.String("session_id", sess.ID()),
		slog.String("embedder", emb.Name()),
		slog.Int("top_k", sess.TopK()),
	)
	return sess, closer, nil
}

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, goerr.Wrap(config.ErrInvalidConfig, "openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize: cfg.OpenAI.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown embedder", goerr.V("type", cfg.Type))
	}
}
