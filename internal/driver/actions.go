package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/codec"
	"github.com/itlab-ai/infer/internal/config"
	"github.com/itlab-ai/infer/internal/graph"
	"github.com/itlab-ai/infer/internal/imageio"
	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/loader"
	"github.com/itlab-ai/infer/internal/modelstore"
	"github.com/itlab-ai/infer/internal/onnx"
	"github.com/itlab-ai/infer/internal/tensor"
)

// Env carries what actions write to.
type Env struct {
	Out io.Writer
	Log *logrus.Logger
}

// VersionArguments requests the version.
type VersionArguments struct{}

// RunArguments override the config file. Empty values keep the config.
type RunArguments struct {
	Config   string
	Model    string
	Format   string
	Image    string
	Labels   string
	TopK     *int
	Strategy string
	Checksum string
	Dump     string
	Stats    bool
	NoTable  bool
}

// InspectArguments name the model to list.
type InspectArguments struct {
	Model   string
	Format  string
	Lenient bool
}

// EvalArguments select the model and the IDX files to score it on.
type EvalArguments struct {
	Config   string
	Model    string
	Format   string
	Strategy string
	Images   string
	Labels   string
	Limit    int
}

// OpsArguments request the onnx operator list.
type OpsArguments struct{}

// PrintVersion writes the version line.
func PrintVersion(env Env, appVersion string) {
	fmt.Fprintf(env.Out, "infer %s\n", appVersion)
}

// ListOps writes the supported onnx operators, one per line.
func ListOps(env Env) {
	for _, op := range onnx.ListSupportedOps() {
		fmt.Fprintln(env.Out, op)
	}
}

// resolve merges the config file with the command line overrides.
func resolve(args *RunArguments) (*config.Config, error) {
	cfg := config.Default()
	if args.Config != "" {
		var err error
		if cfg, err = config.Load(args.Config); err != nil {
			return nil, err
		}
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Model, args.Model)
	override(&cfg.Format, args.Format)
	override(&cfg.Image, args.Image)
	override(&cfg.Labels, args.Labels)
	override(&cfg.Parallel.Strategy, args.Strategy)
	override(&cfg.Checksum, args.Checksum)
	override(&cfg.Dump, args.Dump)
	if args.TopK != nil {
		cfg.TopK = *args.TopK
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, errors.Wrap(ErrMissingArgument, "no model given")
	}
	if cfg.Image == "" {
		return nil, errors.Wrap(ErrMissingArgument, "no image given")
	}
	return cfg, nil
}

// withLevel applies the configured log level; debug overrides it.
func withLevel(log *logrus.Logger, cfg *config.Config, debug bool) *logrus.Logger {
	log.SetLevel(cfg.Level())
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Run classifies one image and prints the top results.
func Run(ctx context.Context, env Env, debug bool, args *RunArguments) error {
	cfg, err := resolve(args)
	if err != nil {
		return err
	}
	log := withLevel(env.Log, cfg, debug)
	store := modelstore.New(log)

	var labels []string
	if cfg.Labels != "" {
		if labels, err = readLabels(ctx, store, cfg.Labels); err != nil {
			return err
		}
	}
	format, err := loader.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	m, err := loader.Load(ctx, store, cfg.Model, loader.Options{
		Format:   format,
		Checksum: cfg.Checksum,
		Mean:     cfg.Input.Mean,
		Std:      cfg.Input.Std,
		Labels:   labels,
		Impl:     cfg.Strategy(),
		Strict:   true,
		Log:      log,
	})
	if err != nil {
		return err
	}

	img, err := readImage(ctx, store, cfg)
	if err != nil {
		return err
	}
	opts := []graph.Option{graph.WithLogger(log)}
	if args.Stats || cfg.Dump != "" {
		opts = append(opts, graph.WithStatistics())
	}
	g, err := m.Graph(img, opts...)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := g.Inference(); err != nil {
		return errors.Wrap(err, "inference")
	}
	log.WithField("duration", time.Since(start)).Info("inference done")

	if cfg.Dump != "" {
		if err := dump(cfg.Dump, g.Stats()); err != nil {
			return err
		}
	}
	if args.Stats {
		printStats(env.Out, g.Stats())
	}

	out := g.Outputs()[0]
	if out.Rank() != 1 {
		if out, err = out.Reshape(tensor.Shape{out.NumElements()}); err != nil {
			return err
		}
	}
	k := cfg.TopK
	if k == 0 || k > out.NumElements() {
		k = out.NumElements()
	}
	names, scores, err := m.Output.TopK(out, k)
	if err != nil {
		return err
	}
	printTop(env.Out, names, scores, args.NoTable)
	return nil
}

// Inspect prints the layer chain of a model.
func Inspect(ctx context.Context, env Env, args *InspectArguments) error {
	format, err := loader.ParseFormat(args.Format)
	if err != nil {
		return err
	}
	opts := loader.DefaultOptions()
	opts.Format = format
	opts.Strict = !args.Lenient
	opts.Log = env.Log
	m, err := loader.Load(ctx, modelstore.New(env.Log), args.Model, opts)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(env.Out)
	table.SetHeader([]string{"#", "Name", "Type", "Post-ops"})
	table.SetCaption(true, fmt.Sprintf("%s model, %d layers, sha256 %s", m.Format, len(m.Layers), m.Checksum[:12]))
	table.SetBorder(false)
	for i, l := range m.Layers {
		post := make([]string, len(l.PostOps()))
		for j, p := range l.PostOps() {
			post[j] = p.Type().String()
		}
		table.Append([]string{fmt.Sprint(i), l.Name(), l.Type().String(), strings.Join(post, ",")})
	}
	table.Render()
	return nil
}

// Eval runs the model on every image of an IDX set and reports how many
// predictions match the labels. The predicted class is the index of the
// largest output.
func Eval(ctx context.Context, env Env, debug bool, args *EvalArguments) error {
	cfg := config.Default()
	if args.Config != "" {
		var err error
		if cfg, err = config.Load(args.Config); err != nil {
			return err
		}
	}
	if args.Model != "" {
		cfg.Model = args.Model
	}
	if args.Format != "" {
		cfg.Format = args.Format
	}
	if args.Strategy != "" {
		cfg.Parallel.Strategy = args.Strategy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Model == "" {
		return errors.Wrap(ErrMissingArgument, "no model given")
	}

	log := withLevel(env.Log, cfg, debug)
	store := modelstore.New(log)
	format, err := loader.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	m, err := loader.Load(ctx, store, cfg.Model, loader.Options{
		Format:   format,
		Checksum: cfg.Checksum,
		Mean:     cfg.Input.Mean,
		Std:      cfg.Input.Std,
		Impl:     cfg.Strategy(),
		Strict:   true,
		Log:      log,
	})
	if err != nil {
		return err
	}
	images, labels, err := readIDX(ctx, store, args, cfg.Input.Scale)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.Wrap(tensor.ErrInvalidArgument, "no images to evaluate")
	}

	g, err := m.Graph(images[0])
	if err != nil {
		return err
	}
	start := time.Now()
	correct := 0
	for i, img := range images {
		if err := g.Rebind(img); err != nil {
			return err
		}
		if err := g.Inference(); err != nil {
			return errors.Wrapf(err, "image %d", i)
		}
		class, err := argMax(g.Outputs()[0])
		if err != nil {
			return errors.Wrapf(err, "image %d", i)
		}
		if class == labels[i] {
			correct++
		}
		log.WithFields(logrus.Fields{"image": i, "label": labels[i], "predicted": class}).Debug("image scored")
	}
	elapsed := time.Since(start)

	table := tablewriter.NewWriter(env.Out)
	table.SetHeader([]string{"Images", "Correct", "Accuracy", "Elapsed"})
	table.SetBorder(false)
	table.Append([]string{
		fmt.Sprint(len(images)),
		fmt.Sprintf("%d/%d", correct, len(images)),
		fmt.Sprintf("%.2f%%", 100*float64(correct)/float64(len(images))),
		elapsed.String(),
	})
	table.Render()
	return nil
}

func readIDX(ctx context.Context, store *modelstore.Store, args *EvalArguments, scale float32) ([]*tensor.Tensor, []int, error) {
	rc, err := store.Open(ctx, args.Images)
	if err != nil {
		return nil, nil, err
	}
	images, err := imageio.ReadIDXImages(rc, scale, args.Limit)
	rc.Close()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", args.Images)
	}

	rc, err = store.Open(ctx, args.Labels)
	if err != nil {
		return nil, nil, err
	}
	labels, err := imageio.ReadIDXLabels(rc, args.Limit)
	rc.Close()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", args.Labels)
	}
	if len(labels) != len(images) {
		return nil, nil, errors.Wrapf(tensor.ErrShapeMismatch, "%d images but %d labels", len(images), len(labels))
	}
	return images, labels, nil
}

func argMax(out *tensor.Tensor) (int, error) {
	flat, err := out.Reshape(tensor.Shape{out.NumElements()})
	if err != nil {
		return 0, err
	}
	names, _, err := layers.TopK(flat, 1, nil)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(names[0])
}

func readLabels(ctx context.Context, store *modelstore.Store, uri string) ([]string, error) {
	rc, err := store.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var labels []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, errors.Wrapf(sc.Err(), "reading labels %s", uri)
}

func readImage(ctx context.Context, store *modelstore.Store, cfg *config.Config) (*tensor.Tensor, error) {
	rc, err := store.Open(ctx, cfg.Image)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, err := imageio.Decode(rc, imageio.Options{
		Width:  cfg.Input.Width,
		Height: cfg.Input.Height,
		Scale:  cfg.Input.Scale,
	})
	return img, errors.Wrapf(err, "reading image %s", cfg.Image)
}

func dump(path string, stats []graph.Stat) error {
	frames := make([]codec.Frame, len(stats))
	for i, s := range stats {
		frames[i] = codec.Frame{Name: fmt.Sprintf("%d:%s", s.ID, s.Name), Tensors: s.Outputs}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating dump file")
	}
	if err := codec.EncodeFrames(f, frames); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing dump file")
}

func printStats(w io.Writer, stats []graph.Stat) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Layer", "Type", "Elapsed", "Output"})
	table.SetBorder(false)
	for _, s := range stats {
		shape := ""
		if len(s.Outputs) > 0 {
			shape = fmt.Sprint(s.Outputs[0].Shape())
		}
		table.Append([]string{s.Name, s.Type.String(), s.Elapsed.String(), shape})
	}
	table.Render()
}

func printTop(w io.Writer, names []string, scores *tensor.Tensor, noTable bool) {
	values := scoreStrings(scores)
	if noTable {
		for i, name := range names {
			fmt.Fprintf(w, "%s\t%s\n", name, values[i])
		}
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rank", "Label", "Score"})
	table.SetBorder(false)
	for i, name := range names {
		table.Append([]string{fmt.Sprint(i + 1), name, values[i]})
	}
	table.Render()
}

func scoreStrings(t *tensor.Tensor) []string {
	out := make([]string, t.NumElements())
	if vals, err := t.Float32s(); err == nil {
		for i, v := range vals {
			out[i] = fmt.Sprintf("%.6g", v)
		}
		return out
	}
	if vals, err := t.Int32s(); err == nil {
		for i, v := range vals {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
