package collaborator

import (
	"archive/tar"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceTarRoundTrip(t *testing.T) {
	r := sourceTar(`source.py`, `print("hi")`)
	tr := tar.NewReader(r)

	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, `source.py`, hdr.Name)

	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	require.Equal(t, `print("hi")`, string(content))
}

func TestMustFlagsToEnvNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		mustFlagsToEnv(map[string]string{`O`: `2`})
	})
}
