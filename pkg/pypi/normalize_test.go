package pypi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/pypi"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"requests", "requests"},
		{"Pytest-Benchmark", "pytest-benchmark"},
		{"pytest_benchmark", "pytest-benchmark"},
		{"zope.interface", "zope-interface"},
		{"Foo__Bar--baz..Qux", "foo-bar-baz-qux"},
		{"A-_.b", "a-b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, pypi.NormalizeName(tt.in))
		})
	}
}

func TestProjectFromFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     string
	}{
		{"pytest_benchmark-4.0.0-py3-none-any.whl", "pytest_benchmark"},
		{"requests-2.31.0.tar.gz", "requests"},
		{"zope.interface-6.1.zip", "zope.interface"},
		{"my-package-1.0.tar.gz", "my-package"},
		{"legacy-0.1.tgz", "legacy"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			t.Parallel()

			got, err := pypi.ProjectFromFilename(tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProjectFromFilename_Rejects(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"README.md", "noversion.tar.gz", "-1.0.whl", "plain.whl"} {
		_, err := pypi.ProjectFromFilename(name)
		require.ErrorIs(t, err, pypi.ErrUnknownArtifact, name)
	}

	assert.False(t, pypi.IsArtifact("index.html"))
	assert.True(t, pypi.IsArtifact("x-1.0-py3-none-any.whl"))
	assert.True(t, pypi.IsArtifact("x-1.0.TAR.GZ"))
}
