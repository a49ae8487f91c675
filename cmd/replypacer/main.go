// Command replypacer reads a mailbox, schedules human-paced replies and
// follow-ups, and sends them when they fall due unless the correspondent
// has written again in the meantime.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nhle/replypacer/internal/model"
)

const usage = `usage: replypacer <command> [flags]

commands:
  run             ingest and dispatch on a schedule until interrupted
  once            run one ingest sweep and one dispatch sweep, then exit
  watch           run the sweeps behind the interactive dashboard
  check           verify the mailbox credentials
  setup           write the config file and store secrets in the keyring
  queue           print scheduled messages
  notifications   print conversations flagged for a human
`

// command is one subcommand. Flags are parsed before run is called.
type command struct {
	flags *pflag.FlagSet
	run   func(ctx context.Context, cfgPath string) error
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	cmds := commands()
	cmd, ok := cmds[name]
	if !ok {
		if name != "-h" && name != "--help" && name != "help" {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		}
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfgPath := cmd.flags.StringP("config", "c", model.DefaultConfigPath(), "config file")
	if err := cmd.flags.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, *cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "replypacer %s: %v\n", name, err)
		stop()
		os.Exit(1)
	}
}

func commands() map[string]*command {
	cmds := map[string]*command{}
	add := func(name string, build func(fs *pflag.FlagSet) func(context.Context, string) error) {
		fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		cmds[name] = &command{flags: fs, run: build(fs)}
	}

	add("run", func(fs *pflag.FlagSet) func(context.Context, string) error {
		return runDaemon
	})
	add("once", func(fs *pflag.FlagSet) func(context.Context, string) error {
		return runOnce
	})
	add("watch", func(fs *pflag.FlagSet) func(context.Context, string) error {
		return runWatch
	})
	add("check", func(fs *pflag.FlagSet) func(context.Context, string) error {
		return runCheck
	})
	add("setup", func(fs *pflag.FlagSet) func(context.Context, string) error {
		return runSetup
	})
	add("queue", func(fs *pflag.FlagSet) func(context.Context, string) error {
		state := fs.StringP("state", "s", string(model.DispositionPending), "pending, sent or canceled")
		all := fs.BoolP("all", "a", false, "show every state")
		limit := fs.IntP("limit", "n", 50, "maximum rows")
		return func(ctx context.Context, cfgPath string) error {
			if *all {
				return runQueue(ctx, cfgPath, nil, *limit)
			}
			d := model.Disposition(*state)
			if !d.Valid() {
				return fmt.Errorf("unknown state %q", *state)
			}
			return runQueue(ctx, cfgPath, &d, *limit)
		}
	})
	add("notifications", func(fs *pflag.FlagSet) func(context.Context, string) error {
		markRead := fs.Bool("mark-read", false, "mark the listed notifications read")
		return func(ctx context.Context, cfgPath string) error {
			return runNotifications(ctx, cfgPath, *markRead)
		}
	})
	return cmds
}
