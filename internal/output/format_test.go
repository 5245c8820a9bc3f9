package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterText(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	f := NewFormatter(FormatText, buf)

	require.NoError(t, f.Print("hello"))
	assert.Equal(t, "hello\n", buf.String())
	assert.False(t, f.IsJSON())
}

func TestFormatterJSON(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	f := NewFormatter(FormatJSON, buf)

	require.NoError(t, f.Print(map[string]any{"did": "did:mdip:abc"}))
	assert.JSONEq(t, `{"did":"did:mdip:abc"}`, buf.String())
	assert.True(t, f.IsJSON())
}

func TestFormatterPrintf(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	f := NewFormatter(FormatText, buf)

	require.NoError(t, f.Printf("%s %d\n", "n", 1))
	require.NoError(t, f.Println("done"))
	assert.Equal(t, "n 1\ndone\n", buf.String())
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}

	// Explicit formats pass through
	assert.Equal(t, FormatText, DetectFormat(buf, FormatText))
	assert.Equal(t, FormatJSON, DetectFormat(buf, FormatJSON))

	// Non-file writers auto-detect to JSON
	assert.Equal(t, FormatJSON, DetectFormat(buf, FormatAuto))
}

func TestCanRenderQRNonTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, CanRenderQR(&bytes.Buffer{}))

	// RenderQR is a no-op on non-terminals
	buf := &bytes.Buffer{}
	require.NoError(t, RenderQR(buf, "did:mdip:abc", DefaultQRConfig()))
	assert.Empty(t, buf.String())
}
