package commands

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/elwassit-org/api-translation-wasslago/cmd/wasslago/ui"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

// consoleChannel renders notifications in the terminal. It is registered
// with the in-process registry like any client channel.
type consoleChannel struct {
	mu      sync.Mutex
	spinner *ui.Spinner
	bar     *ui.ProgressBar
	last    domain.Notification
}

func newConsoleChannel() *consoleChannel {
	s := ui.NewSpinner("Starting")
	s.Start()
	return &consoleChannel{spinner: s}
}

func (c *consoleChannel) Send(_ context.Context, payload []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = n

	switch {
	case n.Progress != nil:
		if c.bar == nil {
			c.stopSpinner()
			c.bar = ui.NewProgressBar(int64(n.Progress.Total), "Translating")
		}
		c.bar.Set(int64(n.Progress.Done))
	case n.Status == domain.StatusProcessing && n.Stage != "":
		if c.bar != nil && n.Stage != domain.StageTranslating {
			c.bar.Finish()
			c.bar = nil
		}
		if c.spinner == nil {
			c.spinner = ui.NewSpinner("")
			c.spinner.Start()
		}
		c.spinner.UpdateMessage(stageLabel(n.Stage))
	case n.Status == domain.StatusCompleted || n.Status == domain.StatusError:
		c.stopSpinner()
		if c.bar != nil {
			c.bar.Finish()
			c.bar = nil
		}
	}
	return nil
}

func (c *consoleChannel) Close(int, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinner()
	return nil
}

func (c *consoleChannel) stopSpinner() {
	if c.spinner != nil {
		c.spinner.Stop()
		c.spinner = nil
	}
}

func stageLabel(s domain.Stage) string {
	switch s {
	case domain.StageDetecting:
		return "Detecting PDF type"
	case domain.StageExtracting:
		return "Extracting text"
	case domain.StageAnonymizing:
		return "Masking sensitive values"
	case domain.StageChunking:
		return "Splitting into chunks"
	case domain.StageTranslating:
		return "Translating"
	case domain.StageReconstructing:
		return "Rebuilding document"
	default:
		return string(s)
	}
}
