// Package driver parses the infer command line and runs its actions.
package driver

import (
	"github.com/pkg/errors"

	"github.com/urfave/cli"
)

// Arguments are the parsed command line. Exactly one action is set.
type Arguments struct {
	Debug bool

	Version *VersionArguments
	Run     *RunArguments
	Inspect *InspectArguments
	Eval    *EvalArguments
	Ops     *OpsArguments
}

// Command line errors.
var (
	ErrMissingCommand  = errors.New("missing command")
	ErrMissingArgument = errors.New("missing argument")
)

// ParseArguments parses argv. Usage errors are already printed.
func ParseArguments(argv []string, appVersion string) (*Arguments, error) {
	var args = Arguments{}
	app := cli.NewApp()
	app.Name = "infer"
	app.Usage = "Run image classification models on the CPU"
	app.Version = appVersion
	app.UseShortOptionHandling = true

	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug,d", Usage: "Log at debug level"},
	}

	app.Commands = []cli.Command{
		{
			Name:  "version",
			Usage: "Show version",
			Action: func(c *cli.Context) error {
				args.Version = &VersionArguments{}
				return nil
			},
		},
		{
			Name:      "run",
			Usage:     "Classify an image",
			ArgsUsage: "[image]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config,c", Usage: "YAML config file"},
				cli.StringFlag{Name: "model,m", Usage: "Model path or gs:// URI"},
				cli.StringFlag{Name: "format,f", Usage: "Model format: json or onnx (default: detect)"},
				cli.StringFlag{Name: "labels,l", Usage: "Label file, one label per line"},
				cli.IntFlag{Name: "top,k", Usage: "Number of results, 0 for all"},
				cli.StringFlag{Name: "strategy,s", Usage: "Kernel strategy: sequential or parallel"},
				cli.StringFlag{Name: "checksum", Usage: "Expected SHA-256 of the model file"},
				cli.StringFlag{Name: "dump", Usage: "Write per-layer outputs to this file"},
				cli.BoolFlag{Name: "stats", Usage: "Print per-layer timings"},
				cli.BoolFlag{Name: "noTable", Usage: "Render pure text instead of table"},
			},
			Action: func(c *cli.Context) error {
				r := &RunArguments{
					Config:   c.String("config"),
					Model:    c.String("model"),
					Format:   c.String("format"),
					Image:    c.Args().Get(0),
					Labels:   c.String("labels"),
					Strategy: c.String("strategy"),
					Checksum: c.String("checksum"),
					Dump:     c.String("dump"),
					Stats:    c.Bool("stats"),
					NoTable:  c.Bool("noTable"),
				}
				if c.IsSet("top") {
					k := c.Int("top")
					r.TopK = &k
				}
				args.Run = r
				return nil
			},
		},
		{
			Name:      "inspect",
			Usage:     "List the layers of a model",
			ArgsUsage: "<model>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "format,f", Usage: "Model format: json or onnx (default: detect)"},
				cli.BoolFlag{Name: "lenient", Usage: "Skip unsupported onnx operators"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return ErrMissingArgument
				}
				args.Inspect = &InspectArguments{
					Model:   c.Args().Get(0),
					Format:  c.String("format"),
					Lenient: c.Bool("lenient"),
				}
				return nil
			},
		},
		{
			Name:      "eval",
			Usage:     "Measure accuracy on an IDX image set",
			ArgsUsage: "<images> <labels>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config,c", Usage: "YAML config file"},
				cli.StringFlag{Name: "model,m", Usage: "Model path or gs:// URI"},
				cli.StringFlag{Name: "format,f", Usage: "Model format: json or onnx (default: detect)"},
				cli.StringFlag{Name: "strategy,s", Usage: "Kernel strategy: sequential or parallel"},
				cli.IntFlag{Name: "limit,n", Usage: "Evaluate at most this many images"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					return ErrMissingArgument
				}
				args.Eval = &EvalArguments{
					Config:   c.String("config"),
					Model:    c.String("model"),
					Format:   c.String("format"),
					Strategy: c.String("strategy"),
					Images:   c.Args().Get(0),
					Labels:   c.Args().Get(1),
					Limit:    c.Int("limit"),
				}
				return nil
			},
		},
		{
			Name:  "ops",
			Usage: "List supported onnx operators",
			Action: func(c *cli.Context) error {
				args.Ops = &OpsArguments{}
				return nil
			},
		},
	}
	app.Action = func(c *cli.Context) error {
		_ = cli.ShowAppHelp(c)
		return ErrMissingCommand
	}
	app.Before = func(c *cli.Context) error {
		args.Debug = c.GlobalBool("debug")
		return nil
	}
	err := app.Run(argv)
	return &args, err
}
