package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/cascadefs/waterfall/internal/errors"
)

// GlobalOptions hold the flags every subcommand shares, mirroring the
// shape of restic's own GlobalOptions.
type GlobalOptions struct {
	Token        string
	ChannelID    string
	Password     string
	PasswordFile string
	ChunkSize    int64
	ContainerCap int64
	Workers      int
	JSON         bool
	Verbose      bool

	CPUProfile string
	MemProfile string

	stdout io.Writer
	stderr io.Writer
}

func (opts *GlobalOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.Token, "token", os.Getenv("WATERFALL_TOKEN"), "bearer token for the chat service (default: $WATERFALL_TOKEN)")
	f.StringVar(&opts.ChannelID, "channel", os.Getenv("WATERFALL_CHANNEL"), "channel to post attachments into (default: $WATERFALL_CHANNEL)")
	f.StringVarP(&opts.Password, "password", "p", "", "encryption password (default: $WATERFALL_PASSWORD, or prompt)")
	f.StringVar(&opts.PasswordFile, "password-file", "", "`file` to read the password from")
	f.Int64Var(&opts.ChunkSize, "chunk-size", 8<<20, "on-wire chunk size in bytes, including AEAD overhead")
	f.Int64Var(&opts.ContainerCap, "container-cap", 25<<20, "tier's maximum attachment size in bytes")
	f.IntVar(&opts.Workers, "workers", 4, "number of concurrent container workers")
	f.BoolVar(&opts.JSON, "json", false, "emit machine-readable job events")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug-level log output")
	f.StringVar(&opts.CPUProfile, "cpuprofile", "", "write a CPU profile to `file`")
	f.StringVar(&opts.MemProfile, "memprofile", "", "write a memory profile to `file`")
}

var globalOptions = GlobalOptions{
	stdout: os.Stdout,
	stderr: os.Stderr,
}

func newLogger(opts GlobalOptions) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(opts.stderr)
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// resolvePassword determines the encryption password: an explicit flag,
// a password file, the environment, or an interactive masked prompt.
func resolvePassword(opts GlobalOptions) (string, error) {
	if opts.Password != "" {
		return opts.Password, nil
	}
	if opts.PasswordFile != "" {
		data, err := os.ReadFile(opts.PasswordFile)
		if err != nil {
			return "", errors.Wrap(err, "read password file")
		}
		return strings.TrimSpace(string(data)), nil
	}
	if pwd := os.Getenv("WATERFALL_PASSWORD"); pwd != "" {
		return pwd, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		sc := bufio.NewScanner(os.Stdin)
		sc.Scan()
		return sc.Text(), errors.WithStack(sc.Err())
	}

	fmt.Fprint(os.Stderr, "enter encryption password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	if len(pwd) == 0 {
		return "", errors.Fatal("an empty password is not allowed")
	}
	return string(pwd), nil
}

func requireToken(opts GlobalOptions) error {
	if opts.Token == "" {
		return errors.Fatal("a bearer token is required (--token or $WATERFALL_TOKEN)")
	}
	if opts.ChannelID == "" {
		return errors.Fatal("a channel ID is required (--channel or $WATERFALL_CHANNEL)")
	}
	return nil
}
