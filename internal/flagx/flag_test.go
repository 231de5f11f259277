package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "gatewaykit.toml", "-r", "127.0.0.1:50051"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "gatewaykit.toml"},
		},
		{
			name:         "equals form",
			args:         []string{"-config=alt.json", "-s", "bolt"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=alt.json"},
		},
		{
			name:         "unknown flags and positionals ignored",
			args:         []string{"-x", "1", "-y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag without value at end is kept",
			args:         []string{"-s"},
			allowedFlags: []string{"-s"},
			want:         []string{"-s"},
		},
		{
			name:         "next dash token is not a value",
			args:         []string{"-c", "-config=alt.json"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "-config=alt.json"},
		},
		{
			name:         "several allowed flags keep their order",
			args:         []string{"-r", "relay:1", "-c", "conf.toml", "-s", "sqlite"},
			allowedFlags: []string{"-r", "-s"},
			want:         []string{"-r", "relay:1", "-s", "sqlite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/etc/gatewaykit.toml"}
		assert.Equal(t, "/etc/gatewaykit.toml", ConfigFileFlag())
	})

	t.Run("long -config", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/etc/gatewaykit.json"}
		assert.Equal(t, "/etc/gatewaykit.json", ConfigFileFlag())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"testbin", "-r", "relay:1"}
		assert.Empty(t, ConfigFileFlag())
	})

	t.Run("last wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/one.toml", "-config", "/two.toml"}
		assert.Equal(t, "/two.toml", ConfigFileFlag())
	})
}
