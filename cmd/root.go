// Package cmd implements the gqlurl command line tool.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wundergraph/graphql-url-loader/pkg/headers"
	"github.com/wundergraph/graphql-url-loader/pkg/httpexec"
	"github.com/wundergraph/graphql-url-loader/pkg/loader"
)

const envPrefix = "GQLURL"

// cli holds the state shared by all commands of one invocation.
type cli struct {
	v      *viper.Viper
	log    abstractlogger.Logger
	zapLog *zap.Logger

	cfgFile string
}

// Execute runs the command line tool with os.Args.
func Execute() error {
	return newRootCmd(os.Stdout, os.Stderr).Execute()
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), log: abstractlogger.NoopLogger}

	rootCmd := &cobra.Command{
		Use:          "gqlurl",
		Short:        "gqlurl loads, queries and subscribes to remote GraphQL endpoints",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.zapLog != nil {
				_ = c.zapLog.Sync() // nolint
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.StringP("output", "o", "json", "output format: json or yaml")
	flags.StringArrayP("header", "H", nil, "request header as key=value, repeatable")
	flags.String("method", "", "default HTTP method, GET or POST")
	flags.String("fetch", "", "registered fetch implementation")
	flags.String("websocket", "", "registered websocket implementation")
	flags.Bool("omit-credentials", false, "never send or store cookies")

	for _, name := range []string{"debug", "output", "header", "method", "fetch", "websocket", "omit-credentials"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newSchemaCmd(c),
		newQueryCmd(c),
		newSubscribeCmd(c),
	)

	return rootCmd
}

func (c *cli) init(cmd *cobra.Command) error {
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	switch c.v.GetString("output") {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("unsupported output format %q", c.v.GetString("output"))
	}

	zapLog, err := newZapLogger(c.v.GetBool("debug"))
	if err != nil {
		return err
	}
	c.zapLog = zapLog
	level := abstractlogger.InfoLevel
	if c.v.GetBool("debug") {
		level = abstractlogger.DebugLevel
	}
	c.log = abstractlogger.NewZapLogger(zapLog, level)
	return nil
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// loaderOptions collects the options shared by all commands. Headers may come from flags,
// the config file (a list of key=value strings) or GQLURL_HEADER.
func (c *cli) loaderOptions() (loader.Options, error) {
	fixed := headers.Fixed{}
	for _, h := range c.v.GetStringSlice("header") {
		key, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return loader.Options{}, fmt.Errorf("invalid header %q, expected key=value", h)
		}
		fixed[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	opts := loader.Options{
		Headers:       fixed,
		Method:        c.v.GetString("method"),
		FetchName:     c.v.GetString("fetch"),
		WebSocketName: c.v.GetString("websocket"),
	}
	if c.v.GetBool("omit-credentials") {
		withCredentials := false
		opts.Credentials = httpexec.CredentialsOmit
		opts.EventSourceOptions.WithCredentials = &withCredentials
	}
	return opts, nil
}

func (c *cli) loader() *loader.Loader {
	return loader.New(nil, c.log)
}
