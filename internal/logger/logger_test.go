package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	defer func() { require.Nil(t, SetLevel("INFO")) }()

	var buf bytes.Buffer
	l := New(&buf)
	l.Debugf("hidden %v", 1)
	l.Infof("q%d FAILED", 7)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "INFO")
	require.Contains(t, buf.String(), "q7 FAILED")

	require.Nil(t, SetLevel("DEBUG"))
	l.Debugf("visible %v", 2)
	require.Contains(t, buf.String(), "DEBUG")
	require.Contains(t, buf.String(), "visible 2")
}

func TestInvalidLevel(t *testing.T) {
	require.NotNil(t, SetLevel("LOUD"))
}
