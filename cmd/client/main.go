package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/meghashyamc/linefinder/certs"
	"github.com/meghashyamc/linefinder/client"
	"github.com/meghashyamc/linefinder/config"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/services/search"
)

func main() {
	godotenv.Load()

	env := flag.String("env", "", "config environment (defaults to $ENV, then local)")
	algorithm := flag.String("algorithm", "linear", "search algorithm: linear, binary, boyer_moore or kmp")
	host := flag.String("host", "", "server host (defaults to config)")
	port := flag.String("port", "", "server port (defaults to config)")
	timeout := flag.Duration("timeout", 10*time.Second, "connection timeout")
	legacy := flag.Bool("legacy", false, "send the bare query line instead of a JSON request")
	benchmark := flag.Bool("benchmark", false, "ask the server to log timings for this query")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <query>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Set("server.host", *host)
	}
	if *port != "" {
		cfg.Set("server.port", *port)
	}

	log := logger.New(cfg.GetLogLevel())
	options := client.Options{
		Address: net.JoinHostPort(cfg.GetHost(), cfg.GetPort()),
		Timeout: *timeout,
		Legacy:  *legacy,
	}
	if cfg.IsSSLEnabled() {
		material, err := certs.LoadFiles(cfg.GetClientCertFile(), cfg.GetClientKeyFile(), cfg.GetCAFile())
		if err != nil {
			log.Warn("could not load client certificate, using plaintext only", "err", err.Error())
		} else {
			options.TLSConfig = certs.ClientConfig(material, cfg.GetHost())
		}
	}

	found, err := client.New(log, options).Exists(context.Background(), client.Request{
		Query:     flag.Arg(0),
		Algorithm: search.ParseAlgorithm(*algorithm),
		Benchmark: *benchmark,
	})
	if err != nil {
		var serverErr *client.ServerError
		if errors.As(err, &serverErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", serverErr.Response)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}

	if found {
		fmt.Println("String found!")
		return
	}
	fmt.Println("String not found.")
}
