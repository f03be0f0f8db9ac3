package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import", importCmd.Use)
	assert.NotEmpty(t, importCmd.Short)
	require.NotNil(t, importCmd.Flags().Lookup("file"))
	require.NotNil(t, importCmd.Flags().Lookup("sheet"))
}

func TestImportCmd_BadPath(t *testing.T) {
	sqliteConfig(t)
	importPath = filepath.Join(t.TempDir(), "missing.csv")
	importCmd.SetContext(context.Background())

	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open file")
}

func TestImportCmd_UnsupportedType(t *testing.T) {
	sqliteConfig(t)
	importPath = filepath.Join(t.TempDir(), "certs.json")
	importCmd.SetContext(context.Background())

	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
