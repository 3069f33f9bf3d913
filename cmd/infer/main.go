// Command infer classifies images with JSON or ONNX models.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/driver"
)

// AppVersion is set at build time with -ldflags "-X main.AppVersion=...".
var AppVersion = "dev"

func main() {
	args, err := driver.ParseArguments(os.Args, AppVersion)
	if err != nil {
		if err == driver.ErrMissingCommand || err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logrus.New()
	if args.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	env := driver.Env{Out: os.Stdout, Log: log}
	ctx := context.Background()

	switch {
	case args.Version != nil:
		driver.PrintVersion(env, AppVersion)
	case args.Ops != nil:
		driver.ListOps(env)
	case args.Eval != nil:
		err = driver.Eval(ctx, env, args.Debug, args.Eval)
	case args.Inspect != nil:
		err = driver.Inspect(ctx, env, args.Inspect)
	case args.Run != nil:
		err = driver.Run(ctx, env, args.Debug, args.Run)
	}
	if err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(3)
	}
}
