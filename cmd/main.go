package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/meghashyamc/linefinder/certs"
	"github.com/meghashyamc/linefinder/config"
	"github.com/meghashyamc/linefinder/server"
)

func main() {
	godotenv.Load()

	env := flag.String("env", "", "config environment (defaults to $ENV, then local)")
	generateCerts := flag.String("generate-certs", "", "write a self-signed CA, server and client certificate to this directory and exit")
	hosts := flag.String("cert-hosts", "localhost,127.0.0.1", "comma separated hosts for the generated server certificate")
	flag.Parse()

	if *generateCerts != "" {
		if err := writeCerts(*generateCerts, strings.Split(*hosts, ",")); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate certificates: %s\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := server.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func writeCerts(dir string, hosts []string) error {
	bundle, err := certs.GenerateBundle(hosts)
	if err != nil {
		return err
	}
	if err := bundle.WriteFiles(dir); err != nil {
		return err
	}

	fmt.Printf("certificates written to %s\n", dir)
	return nil
}
