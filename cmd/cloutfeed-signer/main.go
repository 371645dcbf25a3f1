package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const usage = `usage: cloutfeed-signer [-config path] <command> [flags]

commands:
  login          add an account from its mnemonic
  login-derived  authorize a derived key through the identity provider
  accounts       list stored accounts
  logout         revoke and remove an account
  sign           sign a transaction hex
  jwt            issue a JWT for an account
  encrypt        encrypt a message to another account
  decrypt        decrypt a message
  valid          check whether a derived key is still valid
`

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if *showVersion {
		fmt.Printf("cloutfeed-signer version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(*configPath, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloutfeed-signer failed to initialize: %v\n", err)
		os.Exit(1)
	}
	err = a.run(ctx, flag.Arg(0), flag.Args()[1:])
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "cloutfeed-signer: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloutfeed-signer: %v\n", err)
		os.Exit(1)
	}
}
