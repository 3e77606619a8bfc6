package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/config"
	"github.com/Zereker/sigsock/internal/frontend"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestSendCmdValidatesBeforeConnecting(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"has space"}, "invalid signal"},
		{[]string{"alterParam", "{not json"}, "invalid JSON"},
	}

	for _, tt := range tests {
		cmd := sendCmd(&globalFlags{})
		cmd.SetArgs(tt.args)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err, tt.args)
		assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.want))
	}
}

func TestStartRunRejectsBadParam(t *testing.T) {
	client := frontend.New(nil, nil)

	err := startRun(client, connectOptions{video: "x", params: []string{"novalue"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name=value")
}

func TestConnOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.ReadTimeout = time.Second

	a := &app{cfg: cfg, logger: discardLogger()}
	opts := a.connOptions()
	assert.Len(t, opts, 6)

	conn := sigsock.New(opts...)
	require.NoError(t, conn.Listen("127.0.0.1:0"))
	require.NoError(t, conn.Close())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
