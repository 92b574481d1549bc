package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Lllllllleong/ocrdocumentflow/internal/app"
	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocr/tesseract"
)

func main() {
	cliApp := &cli.App{
		Name:  "docflow",
		Usage: "Upload, OCR and search PDF documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Store a document and queue it for OCR",
				ArgsUsage: "<file>",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Filename to record (defaults to the file's base name)"},
					&cli.StringFlag{Name: "mime", Usage: "MIME type (defaults to one guessed from the extension)"},
				},
			},
			{
				Name:      "rename",
				Usage:     "Rename a document",
				ArgsUsage: "<id> <name>",
				Action:    renameCommand,
			},
			{
				Name:      "get",
				Usage:     "Print a document record as JSON",
				ArgsUsage: "<id>",
				Action:    getCommand,
			},
			{
				Name:      "download",
				Usage:     "Write a document's bytes to a file or stdout",
				ArgsUsage: "<id>",
				Action:    downloadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (stdout when empty)"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document from every store",
				ArgsUsage: "<id>",
				Action:    deleteCommand,
			},
			{
				Name:      "search",
				Usage:     "Full-text search over filenames and OCR text",
				ArgsUsage: "<query>",
				Action:    searchCommand,
			},
			{
				Name:   "list",
				Usage:  "List every document record",
				Action: listCommand,
			},
			{
				Name:   "work",
				Usage:  "Run the OCR worker until interrupted",
				Action: workCommand,
			},
			{
				Name:   "consume",
				Usage:  "Run the completion consumer until interrupted",
				Action: consumeCommand,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the pipeline and runs fn against it.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") || level == "" {
		level = c.String("log-level")
	}
	// stdout carries command output
	logger := app.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, tesseract.NewExtractor(cfg.OCR, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
		}
	}()
	return fn(ctx, a)
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return cli.Exit(fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mimeFor(path, override string) string {
	if override != "" {
		return override
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func uploadCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		doc, err := a.Registry.Upload(ctx, f, name, info.Size(), mimeFor(path, c.String("mime")))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, doc)
	})
}

func renameCommand(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		doc, err := a.Registry.Rename(ctx, c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, doc)
	})
}

func getCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		doc, err := a.Registry.Get(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, doc)
	})
}

func downloadCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		data, err := a.Registry.Bytes(ctx, c.Args().First())
		if err != nil {
			return err
		}
		out := c.String("out")
		if out == "" {
			_, err = c.App.Writer.Write(data)
			return err
		}
		return os.WriteFile(out, data, 0o644)
	})
}

func deleteCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return a.Registry.Delete(ctx, c.Args().First())
	})
}

func searchCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		docs, err := a.Registry.Search(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, docs)
	})
}

func listCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		docs, err := a.Registry.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, docs)
	})
}

func workCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return ignoreCanceled(a.RunWorker(ctx))
	})
}

func consumeCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return ignoreCanceled(a.RunCompletionConsumer(ctx))
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
