package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ougirez/cmregistry/internal/pkg/cache"
)

func TestExitErrorUnwraps(t *testing.T) {
	base := errors.New("rebuild partial")
	err := fmt.Errorf("run: %w", &exitError{code: exitPartial, err: base})

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitPartial, ee.code)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "run: rebuild partial", err.Error())
}

func TestNamespaceNamesParse(t *testing.T) {
	names := namespaceNames()
	require.Len(t, names, len(cache.Namespaces))

	for _, name := range names {
		ns, err := cache.ParseNamespace(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, string(ns))
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"deleted": 3}))

	assert.JSONEq(t, `{"deleted": 3}`, buf.String())
	assert.Contains(t, buf.String(), "\n  \"deleted\"")
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "rebuild", "migrate", "cache"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	flag := rebuildCmd.Flags().Lookup("batch-size")
	require.NotNil(t, flag)
	assert.Equal(t, "200", flag.DefValue)
}
