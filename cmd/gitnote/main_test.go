package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "gitnote %s", strings.Join(args, " "))
	return out.String()
}

func TestCLI_Workflow(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { workDir = "" })

	out := run(t, "init", "-C", dir, "--gitless", "--bus", "none")
	assert.Contains(t, out, "Initialized gitnote workspace")

	id := strings.TrimSpace(run(t, "new", "-C", dir, "--title", "Groceries", "--body", "milk eggs", "--tag", "home"))
	require.NotEmpty(t, id)

	var items []listItem
	require.NoError(t, json.Unmarshal([]byte(run(t, "list", "-C", dir, "--json", "--tag", "home")), &items))
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "Groceries", items[0].Title)
	assert.True(t, strings.HasPrefix(items[0].Path, "notes/groceries-"), items[0].Path)

	out = run(t, "read", "-C", dir, id)
	assert.Contains(t, out, `title: "Groceries"`)
	assert.Contains(t, out, "milk eggs")

	out = run(t, "version")
	assert.Contains(t, out, "gitnote version")
}
