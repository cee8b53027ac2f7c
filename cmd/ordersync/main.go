package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ordersync-go/internal/bootstrap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ordersync failed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts bootstrap.Options

	flagSet := pflag.NewFlagSet("ordersync", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file (defaults and ORDERSYNC_* env when empty)")
	flagSet.BoolVar(&opts.DisableDotEnv, "no-dotenv", false, "do not load variables from .env")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	fmt.Printf("[%s] [INFO] [Bootstrap] starting ordersync...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	return bootstrap.Run(context.Background(), opts)
}

func printHelp(flagSet *pflag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `ordersync keeps a live copy of a tenant's orders.

It pulls the order list over REST, then follows the STOMP event channels
and applies every change. A status API is served when http.enabled is set.

Usage:
  ordersync [flags]

Flags:
%s`, flagSet.FlagUsages())
}
