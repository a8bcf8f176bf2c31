package storage

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := zip.NewWriter(buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func TestExtractArchiveZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"readme.txt":     "hello",
		"docs/guide.txt": "nested",
	})

	entries, err := extractArchive("bundle.zip", data)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]string{}
	for _, entry := range entries {
		byName[entry.Name] = string(entry.Data)
	}
	require.Equal(t, "hello", byName["readme.txt"])
	require.Equal(t, "nested", byName["docs/guide.txt"])
}

func TestExtractArchiveSkipsUnsafeEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ok.txt":              "keep",
		"../escape.txt":       "drop",
		"__MACOSX/._ok.txt":   "drop",
		".hidden":             "drop",
		"nested/.DS_Store":    "drop",
		"back\\slash\\ok.txt": "keep",
	})

	entries, err := extractArchive("bundle.zip", data)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	require.ElementsMatch(t, []string{"ok.txt", "back/slash/ok.txt"}, names)
}

func TestExtractArchiveUnsupportedFormat(t *testing.T) {
	_, err := extractArchive("bundle.tar.gz", []byte("whatever"))
	require.Error(t, err)
}

func TestCleanEntryName(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"a/b.txt", "a/b.txt", true},
		{"./a.txt", "a.txt", true},
		{"a\\b.txt", "a/b.txt", true},
		{"../a.txt", "", false},
		{"/abs.txt", "", false},
		{".", "", false},
		{"__MACOSX/a.txt", "", false},
		{"a/.hidden", "", false},
	}
	for _, tc := range cases {
		got, ok := cleanEntryName(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			require.Equal(t, tc.want, got, tc.raw)
		}
	}
}
