package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"aerospin-backend/pkg/config"
)

// cliOptions are command-line overrides applied on top of the environment
type cliOptions struct {
	envFiles  []string
	port      string
	logLevel  string
	logFormat string
	help      bool
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions

	flagSet := pflag.NewFlagSet("aerospin-server", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringSliceVar(&opts.envFiles, "env-file", nil, "env file to load before reading the environment (repeatable; default: .env)")
	flagSet.StringVarP(&opts.port, "port", "p", "", "HTTP listen port (overrides PORT)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			opts.help = true
			return opts, nil
		}
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.help {
		fmt.Fprintf(stderr, "Usage: aerospin-server [flags]\n\n%s", flagSet.FlagUsages())
	}
	return opts, nil
}

// loadConfig resolves the environment then applies flag overrides
func (o cliOptions) loadConfig() *config.Config {
	cfg := config.LoadFrom(o.envFiles...)
	if o.port != "" {
		cfg.Port = o.port
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg
}
