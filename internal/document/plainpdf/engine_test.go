package plainpdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elwassit-org/api-translation-wasslago/internal/document/pdftest"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

func TestEngine_DigitalDocument(t *testing.T) {
	path := pdftest.Write(t, "letter.pdf", [][]string{
		{"Dear customer, your invoice for the month of January is attached to this letter."},
	})

	e := New(Options{}, nil)
	ctx := context.Background()

	digital, err := e.IsDigital(ctx, path)
	require.NoError(t, err)
	assert.True(t, digital)

	ext, err := e.Extract(ctx, path, "en")
	require.NoError(t, err)
	assert.Equal(t, 1, ext.Pages)
	require.NotEmpty(t, ext.Blocks)
	assert.Contains(t, ext.Text, "[BLOCK_0001]")
	assert.Contains(t, ext.Text, "invoice")
}

func TestEngine_EmptyPagesAreNotDigital(t *testing.T) {
	path := pdftest.Write(t, "blank.pdf", [][]string{{""}, {""}})

	digital, err := New(Options{}, nil).IsDigital(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, digital)

	_, err = New(Options{}, nil).Extract(context.Background(), path, "en")
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestEngine_RejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

	_, err := New(Options{}, nil).Extract(context.Background(), path, "en")
	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrorTypeValidation, de.Type)
}
