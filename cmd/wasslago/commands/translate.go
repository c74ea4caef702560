package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/elwassit-org/api-translation-wasslago/cmd/wasslago/ui"
	"github.com/elwassit-org/api-translation-wasslago/internal/app"
	"github.com/elwassit-org/api-translation-wasslago/internal/document"
	"github.com/elwassit-org/api-translation-wasslago/internal/pipeline"
)

// identity of the terminal in the in-process registry
const consoleIdentity = "console"

var (
	translateFrom   string
	translateTo     string
	translateOutput string
)

var translateCmd = &cobra.Command{
	Use:   "translate <pdf>",
	Short: "Translate a digital PDF into a TipTap JSON document",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranslate,
}

func init() {
	translateCmd.Flags().StringVarP(&translateFrom, "from", "f", "", "source language (required)")
	translateCmd.Flags().StringVarP(&translateTo, "to", "t", "", "target language (required)")
	translateCmd.Flags().StringVarP(&translateOutput, "output", "o", "", "output path (default: <input>.<to>.json)")
	_ = translateCmd.MarkFlagRequired("from")
	_ = translateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]
	if err := document.ValidatePDFPath(pdfPath); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// notifications go straight to the terminal, one per chunk
	cfg.Delivery.Store = "memory"
	cfg.Jobs.ProgressStep = 1

	logger := newLogger(cfg)
	a, err := app.New(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if translateOutput == "" {
		base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
		translateOutput = filepath.Join(filepath.Dir(pdfPath), fmt.Sprintf("%s.%s.json", base, translateTo))
	}

	ui.Section("PDF Translation")
	ui.Info("PDF file: %s", pdfPath)
	ui.Info("Languages: %s -> %s", translateFrom, translateTo)
	ui.Info("Provider: %s (%s), %d requests/min", cfg.Translation.Provider, cfg.Translation.Model, cfg.Translation.RequestsPerMinute)

	console := newConsoleChannel()
	a.Registry.Connect(ctx, consoleIdentity, console)

	res, runErr := a.Orchestrator.Run(ctx, pipeline.Job{
		DocumentID: uuid.NewString(),
		Identity:   consoleIdentity,
		SourceLang: translateFrom,
		TargetLang: translateTo,
		FilePath:   pdfPath,
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(closeCtx)

	if runErr != nil {
		ui.Error("Translation failed: %v", runErr)
		return runErr
	}

	data, err := json.MarshalIndent(res.Document, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := os.WriteFile(translateOutput, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", translateOutput, err)
	}

	perf := res.Performance
	ui.Section("Summary")
	ui.Table([]string{"METRIC", "VALUE"}, [][]string{
		{"Chunks", fmt.Sprintf("%d", perf.Chunks)},
		{"Failed chunks", fmt.Sprintf("%d", perf.FailedChunks)},
		{"Masked values", fmt.Sprintf("%d", res.Tokens)},
		{"Translation time", fmt.Sprintf("%.2fs (%.1f%%)", perf.TranslationTime, perf.TranslationPercentage)},
		{"Total time", fmt.Sprintf("%.2fs", perf.TotalTime)},
	})
	if perf.FailedChunks > 0 {
		ui.Warning("%d chunk(s) kept their original text after exhausting retries", perf.FailedChunks)
	}
	ui.Success("Wrote %s", translateOutput)
	return nil
}
