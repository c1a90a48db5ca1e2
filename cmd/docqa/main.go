package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"docqa/internal/config"
	"docqa/internal/eval"
	"docqa/internal/logging"
	"docqa/internal/service"
	"docqa/internal/tui"
)

const usage = `Usage: docqa [--config=docqa.yaml] <command> [args]

Commands:
  tui                  interactive question answering (default)
  ask <question>       answer one question and print the cited passages
  ingest <files...>    add .pdf/.docx files to the knowledge base
  sources              list indexed documents
  eval [--dataset f]   compare model-only and grounded answers
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("docqa", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./docqa.yaml or ~/.config/docqa/config.yaml if not provided)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	cmd := "tui"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if cmd == "tui" && logOpts.File == "" {
		logOpts.File = "docqa.log"
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up logging: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		fmt.Fprintln(stderr, service.UserMessage(err))
		return 1
	}
	initErr := svc.Init(ctx)

	switch cmd {
	case "tui":
		p := tea.NewProgram(tui.New(ctx, svc, initErr), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Error("tui failed", "err", err)
			return 1
		}
		return 0
	case "ask":
		return runAsk(ctx, svc, initErr, strings.Join(rest, " "), stdout, stderr)
	case "ingest":
		return runIngest(ctx, svc, rest, stdout, stderr)
	case "sources":
		if initErr != nil {
			fmt.Fprintln(stderr, service.UserMessage(initErr))
			return 1
		}
		sources := svc.Sources()
		if len(sources) == 0 {
			fmt.Fprintln(stdout, "No documents have been indexed yet.")
		}
		for _, s := range sources {
			fmt.Fprintln(stdout, s)
		}
		return 0
	case "eval":
		return runEval(ctx, svc, initErr, rest, logger, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func runAsk(ctx context.Context, svc *service.RAG, initErr error, question string, stdout, stderr io.Writer) int {
	if initErr != nil {
		fmt.Fprintln(stderr, service.UserMessage(initErr))
		return 1
	}
	ans, err := svc.Ask(ctx, question)
	if err != nil {
		fmt.Fprintln(stderr, service.UserMessage(err))
		return 1
	}
	fmt.Fprintln(stdout, ans.Text)
	if len(ans.Citations) > 0 {
		fmt.Fprintln(stdout, "\nRetrieved Passages and Citations:")
	}
	for i, c := range ans.Citations {
		fmt.Fprintf(stdout, "\n%s\n%s\n", service.CitationLabel(i+1, c), c.Chunk.Text)
	}
	return 0
}

func runIngest(ctx context.Context, svc *service.RAG, paths []string, stdout, stderr io.Writer) int {
	if len(paths) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	rep, err := svc.Ingest(ctx, paths)
	for _, r := range rep.Rejected {
		fmt.Fprintf(stderr, "ignored unsupported file: %s\n", r)
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(stderr, "could not read: %s\n", s.Path)
	}
	if err != nil {
		fmt.Fprintln(stderr, service.UserMessage(err))
		return 1
	}
	if rep.Files == 0 {
		fmt.Fprintln(stdout, "No new documents to process.")
		return 0
	}
	fmt.Fprintf(stdout, "Knowledge base updated: %d files added, %d entries indexed.\n", rep.Files, rep.Entries)
	return 0
}

func runEval(ctx context.Context, svc *service.RAG, initErr error, args []string, logger *log.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataset := fs.String("dataset", "", "YAML file of {question, ground_truth_answer} items (default: built-in sample)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if initErr != nil || !svc.Ready() {
		fmt.Fprintln(stderr, "Vector store not found. Add documents first.")
		return 1
	}
	items, err := eval.LoadDataset(*dataset)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	results, err := eval.Run(ctx, svc, items, logger)
	if err != nil {
		fmt.Fprintln(stderr, service.UserMessage(err))
		return 1
	}
	if err := eval.Print(stdout, results); err != nil {
		return 1
	}
	return 0
}
