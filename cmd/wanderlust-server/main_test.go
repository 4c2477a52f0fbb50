package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverridesFromKeepsOnlySetFlags(t *testing.T) {
	v := viper.New()
	cmd := newServeCommand(v)
	require.NoError(t, cmd.ParseFlags([]string{"--addr", ":9090", "--interval", "2s"}))

	o := overridesFrom(v)
	require.NotNil(t, o.ServerAddr)
	assert.Equal(t, ":9090", *o.ServerAddr)
	require.NotNil(t, o.TrackerInterval)
	assert.Equal(t, 2*time.Second, *o.TrackerInterval)
	assert.Nil(t, o.DatabaseURL)
	assert.Nil(t, o.LogLevel)
	assert.Nil(t, o.TrackerThreshold)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "dev\n", out.String())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "********", redact("secret"))
}
