package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

func TestParseExposesSelectors(t *testing.T) {
	t.Parallel()

	doc, err := New().Parse(context.Background(),
		`<html><head><title>Hi</title></head><body><p class="x">one</p><p>two</p></body></html>`,
		crawler.DocumentConfig{})
	require.NoError(t, err)
	require.Equal(t, "Hi", doc.Find("title").Text())
	require.Equal(t, 2, doc.Find("p").Length())
	require.Equal(t, "one", doc.Find("p.x").Text())
}

func TestParseNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	markup := "<p>  a \n\t b  </p><pre>  keep\n  me</pre>"

	doc, err := New().Parse(context.Background(), markup, crawler.DocumentConfig{NormalizeWhitespace: true})
	require.NoError(t, err)
	require.Equal(t, " a b ", doc.Find("p").Text())
	require.Equal(t, "  keep\n  me", doc.Find("pre").Text())

	doc, err = New().Parse(context.Background(), markup, crawler.DocumentConfig{})
	require.NoError(t, err)
	require.Equal(t, "  a \n\t b  ", doc.Find("p").Text())
}

func TestParseHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Parse(ctx, "<p>x</p>", crawler.DocumentConfig{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSquash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", " "},
		{"a  b", "a b"},
		{"\na\n", " a "},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, squash(tt.in), "%q", tt.in)
	}
}
