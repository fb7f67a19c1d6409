package filetype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestDetect(t *testing.T) {
	d := New()

	djvu := write(t, "book.djvu", append([]byte("AT&TFORM\x00\x00\x01\x00DJVUINFO\x00\x00\x00\x0a"), make([]byte, 64)...))
	ok, err := d.IsDjVu(djvu)
	require.NoError(t, err)
	assert.True(t, ok)

	pdf := write(t, "book.pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< >>\nendobj\n"))
	ok, err = d.IsPDF(pdf)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.IsDjVu(pdf)
	require.NoError(t, err)
	assert.False(t, ok)

	fake := write(t, "fake.djvu", []byte("just some text"))
	info, err := d.Detect(fake)
	require.NoError(t, err)
	assert.False(t, info.Supported)

	_, err = d.Detect(filepath.Join(t.TempDir(), "missing.djvu"))
	assert.Error(t, err)
}

func TestHasDjVuExtension(t *testing.T) {
	assert.True(t, HasDjVuExtension("a.djvu"))
	assert.True(t, HasDjVuExtension("/x/B.DJV"))
	assert.False(t, HasDjVuExtension("a.pdf"))
	assert.False(t, HasDjVuExtension("djvu"))
}
