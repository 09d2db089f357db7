package sniff

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestDetectPrefersHeader(t *testing.T) {
	t.Parallel()

	d := New()
	require.Equal(t, "iso-8859-1", d.Detect("text/html; charset=ISO-8859-1", []byte("<p>hi</p>")))
	require.Equal(t, "us-ascii", d.Detect(`text/plain; charset="US-ASCII"`, nil))
}

func TestDetectMetaDeclaration(t *testing.T) {
	t.Parallel()

	d := New()
	body := []byte(`<html><head><meta charset="shift_jis"></head><body>x</body></html>`)
	require.Equal(t, "shift_jis", d.Detect("text/html", body))

	latin := []byte(`<html><head><meta http-equiv="Content-Type" content="text/html; charset=windows-1252"></head></html>`)
	require.Equal(t, "windows-1252", d.Detect("", latin))
}

func TestDetectByteOrderMark(t *testing.T) {
	t.Parallel()

	body := append([]byte{0xFE, 0xFF}, []byte{0x00, 'h', 0x00, 'i'}...)
	require.Equal(t, "utf-16be", New().Detect("", body))
}

func TestDetectDefaultsToUTF8(t *testing.T) {
	t.Parallel()

	d := New()
	require.Equal(t, "utf-8", d.Detect("", nil))
	require.Equal(t, "utf-8", d.Detect("text/html", []byte("<p>plain ascii</p>")))
	require.Equal(t, "utf-8", d.Detect("", []byte("café crème brûlée")))
	require.Equal(t, "utf-8", d.Detect("not a media type;;", []byte("ok")))
}

func TestDetectStatisticalFallback(t *testing.T) {
	t.Parallel()

	text := "Le café de la gare était fermé ce matin. Les élèves " +
		"ont préféré aller à la bibliothèque où ils ont " +
		"étudié l'histoire de la révolution française pendant des heures."
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	encoded = bytes.Repeat(append(encoded, ' '), 4)

	got := New().Detect("", encoded)
	require.NotEqual(t, "utf-8", got)
}

func TestTrimPartialRune(t *testing.T) {
	t.Parallel()

	full := []byte("hé")
	require.Equal(t, full, trimPartialRune(full))
	require.Equal(t, []byte("h"), trimPartialRune(full[:2]))
}
