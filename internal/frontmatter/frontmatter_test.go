package frontmatter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_NoFrontmatter_ReturnsBodyOnly(t *testing.T) {
	input := []byte("# Title\n\nHello\n")

	doc, err := Parse(input)
	require.NoError(t, err)
	require.Empty(t, doc.Fields)
	require.Equal(t, input, doc.Body)
	require.NotEmpty(t, doc.Fingerprint)
}

func TestParse_YAMLFrontmatter(t *testing.T) {
	input := []byte("---\ntitle: Getting Started\nslug: start\nweight: 3\nlastmod: 2024-05-01\n---\n# Heading\n")

	doc, err := Parse(input)
	require.NoError(t, err)
	require.Equal(t, "Getting Started", doc.Meta.Title)
	require.Equal(t, "start", doc.Meta.Slug)
	require.Equal(t, 3, doc.Meta.Weight)
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), doc.Meta.LastMod)
	require.Equal(t, "# Heading\n", string(doc.Body))
}

func TestParse_TOMLFrontmatter(t *testing.T) {
	input := []byte("+++\ntitle = \"Reference\"\nweight = 7\n+++\nbody\n")

	doc, err := Parse(input)
	require.NoError(t, err)
	require.Equal(t, "Reference", doc.Meta.Title)
	require.Equal(t, 7, doc.Meta.Weight)
	require.Equal(t, "body\n", string(doc.Body))
}

func TestParse_MissingClosingDelimiter_ReturnsError(t *testing.T) {
	_, err := Parse([]byte("---\ntitle: x\n# Title\n"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingClosingDelimiter))
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a, err := Parse([]byte("---\ntitle: A\nweight: 1\n---\nbody\n"))
	require.NoError(t, err)
	again, err := Parse([]byte("---\nweight: 1\ntitle: A\n---\nbody\n"))
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, again.Fingerprint, "key order must not affect the fingerprint")

	bodyChanged, err := Parse([]byte("---\ntitle: A\nweight: 1\n---\nbody!\n"))
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, bodyChanged.Fingerprint)

	metaChanged, err := Parse([]byte("---\ntitle: B\nweight: 1\n---\nbody\n"))
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, metaChanged.Fingerprint)
}

func TestComputeFingerprint_NilFields(t *testing.T) {
	_, err := ComputeFingerprint(nil, []byte("x"))
	require.Error(t, err)
}
