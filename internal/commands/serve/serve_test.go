package serve_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skitsanos/ironflow/internal/commands/serve"
)

func TestServeCommandShutsDownCleanlyOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	cmd := serve.NewCommand()
	cmd.SetArgs([]string{
		"--host", "127.0.0.1",
		"--port", "18765",
		"--store-dir", dir,
		"--flows-dir", dir,
		"--config", dir + "/missing.yaml",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	assert.NoError(t, err)
}
