// Command ply prints property lists and keyed archives in readable form.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/zdypro888/plist"
	"github.com/zdypro888/plist/archiver"
)

type options struct {
	Config  string `short:"c" long:"config" description:"YAML file with default options" value-name:"FILE"`
	Format  string `short:"o" long:"format" description:"output format" choice:"yaml" choice:"json"`
	Keyed   bool   `short:"k" long:"keyed" description:"validate as NSKeyedArchiver and print the object graph"`
	Strict  bool   `long:"strict" description:"fail on unresolvable collection members"`
	Verbose bool   `short:"v" long:"verbose" description:"log decode diagnostics"`
}

// config mirrors options for the -c file. Flags given on the command line
// take precedence.
type config struct {
	Format  string `yaml:"format"`
	Keyed   bool   `yaml:"keyed"`
	Strict  bool   `yaml:"strict"`
	Verbose bool   `yaml:"verbose"`
}

var gzipMagic = []byte{0x1f, 0x8b}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] FILE..."
	args, err := parser.Parse()
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if len(args) == 0 {
		parser.WriteHelp(os.Stderr)
		os.Exit(2)
	}
	if opts.Config != "" {
		if err := applyConfig(&opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if opts.Format == "" {
		opts.Format = "yaml"
	}

	log := zap.NewNop()
	if opts.Verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	plist.SetLogger(log)

	status := 0
	for _, file := range args {
		if err := run(os.Stdout, file, &opts, log); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			status = 1
		}
	}
	_ = log.Sync()
	os.Exit(status)
}

func applyConfig(opts *options) error {
	data, err := ioutil.ReadFile(opts.Config)
	if err != nil {
		return err
	}
	var cfg config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return fmt.Errorf("%s: %v", opts.Config, err)
	}
	if opts.Format == "" {
		opts.Format = cfg.Format
	}
	opts.Keyed = opts.Keyed || cfg.Keyed
	opts.Strict = opts.Strict || cfg.Strict
	opts.Verbose = opts.Verbose || cfg.Verbose
	return nil
}

func run(w io.Writer, file string, opts *options, log *zap.Logger) error {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return err
	}
	data, err = maybeGunzip(data)
	if err != nil {
		return err
	}

	pl, err := plist.ParseWithOptions(data, plist.DecoderOptions{Logger: log, Strict: opts.Strict})
	if err != nil {
		return err
	}
	if opts.Keyed {
		a, err := archiver.ReadArchive(pl, archiver.WithLogger(log))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, a.Print())
		return err
	}
	return render(w, plist.Plain(pl), opts.Format)
}

func maybeGunzip(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func render(w io.Writer, v interface{}, format string) error {
	var out []byte
	var err error
	switch format {
	case "json":
		out, err = json.MarshalIndent(v, "", "  ")
		out = append(out, '\n')
	default:
		out, err = yaml.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
