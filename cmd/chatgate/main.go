package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"git.sr.ht/~jakintosh/chatgate/internal/config"
	"github.com/spf13/pflag"
)

// options are the command-line overrides. Empty values leave the profile
// alone.
type options struct {
	ConfigPath  string
	Gateway     string
	Store       string
	LogLevel    string
	MetricsFile string
	Username    string
	Password    string
	PasswordIn  bool
	UserID      string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("chatgate", pflag.ContinueOnError)
	flagSet.StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "path to the YAML profile")
	flagSet.StringVar(&opts.Gateway, "gateway", "", "gateway base URL (overrides profile)")
	flagSet.StringVar(&opts.Store, "store", "", "credential store path (overrides profile)")
	flagSet.StringVar(&opts.LogLevel, "log-level", "", "none, error, info or debug (overrides profile)")
	flagSet.StringVar(&opts.MetricsFile, "metrics-file", "", "write client metrics to this file on exit")
	flagSet.StringVarP(&opts.Username, "user", "u", "", "username for login (default from profile)")
	flagSet.StringVarP(&opts.Password, "password", "p", "", "password for login (default $"+config.EnvPassword+", then "+config.DefaultPassword+")")
	flagSet.BoolVar(&opts.PasswordIn, "password-stdin", false, "read the login password from the first line of stdin")
	flagSet.StringVar(&opts.UserID, "user-id", "", "user id for new chat sessions (default from profile)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetOutput(io.Discard)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stdout, flagSet)
		return errors.New("no command given")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	a, err := newApp(opts, stdin, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.requiresLogin {
		if err := a.chat.RequireLogin(); err != nil {
			return fmt.Errorf("%w: run 'chatgate login' first", err)
		}
	}
	return cmd.run(a, rest[1:])
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `chatgate talks to a chat gateway with automatic access token renewal.

Usage:
  chatgate [flags] <command> [args]

Commands:
  login                   log in and store the access token
  logout                  end the gateway session and clear the stored token
  whoami                  show the stored token's subject and expiry
  session                 create a chat session and print its id
  send <session> <text>   send a message and print the reply
  history <session>       print a session's messages
  health                  print the gateway's health response
  chat [session]          interactive chat; reloads the profile on change

Flags:
%s`, flagSet.FlagUsages())
}
