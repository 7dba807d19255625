package llm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbaxszy7/mnemora/internal/llm"
)

func TestTruncate_ShortTextUnchanged(t *testing.T) {
	require.Equal(t, "hello", llm.Truncate("hello"))
	require.Equal(t, "", llm.Truncate(""))
}

func TestTruncate_LongTextBounded(t *testing.T) {
	long := strings.Repeat("x", 100_000)

	got := llm.Truncate(long)

	require.Less(t, len(got), len(long))
	require.True(t, strings.HasSuffix(got, "... [truncated]"))
}
