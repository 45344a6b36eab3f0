package inspect_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skitsanos/ironflow/internal/commands/inspect"
	"github.com/skitsanos/ironflow/internal/store"
)

func TestInspectCommandPrintsRunInfo(t *testing.T) {
	dir := t.TempDir()
	st := store.NewFileStore(dir)
	require.NoError(t, st.InitRun(context.Background(), "run-1", "demo", map[string]any{"k": "v"}))

	cmd := inspect.NewCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"run-1", "--store-dir", dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "demo")
}

func TestInspectCommandUnknownRunReturnsError(t *testing.T) {
	dir := t.TempDir()

	cmd := inspect.NewCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"missing", "--store-dir", dir})

	assert.Error(t, cmd.Execute())
}
