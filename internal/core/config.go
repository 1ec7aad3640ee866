package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName    = ".config/rembash"
	AdminSockName  = "admin.sock"
	AuditDBName    = "audit.db"
	DefaultACLName = "acl.hcl"
)

// Config is the process-wide configuration instance, populated once by
// InitializeConfig during the root command's PersistentPreRunE.
var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path":       "config_path",
	"verbose":           "verbose",
	"port":              "port",
	"secret":            "secret",
	"secret-hash":       "secret_hash",
	"secret-file":       "secret_file",
	"workers":           "workers",
	"shell":             "shell",
	"acl-path":          "acl_path",
	"handshake-timeout": "handshake_timeout",
}

func GetAdminSocketPath() string {
	return filepath.Join(Config.GetString("config_path"), AdminSockName)
}

func GetAuditDBPath() string {
	return filepath.Join(Config.GetString("config_path"), AuditDBName)
}

func GetACLPath() string {
	if p := Config.GetString("acl_path"); p != "" {
		return p
	}
	return filepath.Join(Config.GetString("config_path"), DefaultACLName)
}

func GetListenPort() int {
	return Config.GetInt("port")
}

func GetHandshakeTimeout() string {
	return Config.GetString("handshake_timeout")
}

func GetWorkerCount() int {
	return Config.GetInt("workers")
}

func GetShellPath() string {
	return Config.GetString("shell")
}

func GetSecret() string {
	return Config.GetString("secret")
}

func GetSecretHash() string {
	return Config.GetString("secret_hash")
}

func GetSecretFilePath() string {
	return Config.GetString("secret_file")
}

// InitializeConfig loads rembash's configuration from (in increasing
// priority) the TOML config file, environment variables prefixed
// REMBASH_, and the flags the invoking command carries (its own and
// those inherited from the root command).
func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	Config = viper.New()

	configPath, err := cmd.Root().PersistentFlags().GetString("config-path")
	if err != nil {
		panic("unable to determine config path")
	}
	Config.AddConfigPath(configPath)

	Config.SetConfigName("config")
	Config.SetConfigType("toml")

	Config.SetDefault("verbose", 0)
	Config.SetDefault("config_path", configPath)
	Config.SetDefault("port", 4070)
	Config.SetDefault("handshake_timeout", "5s")
	Config.SetDefault("workers", 0) // 0 means runtime.NumCPU()*4, resolved by the worker pool
	Config.SetDefault("shell", "")  // "" means resolve $SHELL, falling back to /bin/sh
	Config.SetDefault("greeting", "<rembash>\n")
	Config.SetDefault("acl_path", "")
	Config.SetDefault("secret", "")
	Config.SetDefault("secret_hash", "")
	Config.SetDefault("secret_file", "")

	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				panic(err)
			}
			Config.SafeWriteConfig()
		} else {
			panic(err)
		}
	}

	Config.SetEnvPrefix("rembash")
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}
			if !f.Changed && Config.IsSet(configKey) {
				cmd.Flags().Set(f.Name, fmt.Sprintf("%v", Config.Get(configKey)))
			} else {
				Config.Set(configKey, fmt.Sprintf("%v", f.Value))
			}
		})
	}

	return []string{}, nil
}
