package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danmuck/wlcore/internal/client"
	"github.com/danmuck/wlcore/internal/logging"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	socket := flag.String("socket", "", "socket name or absolute path")
	runtimeDir := flag.String("runtime-dir", "", "socket directory (defaults to $XDG_RUNTIME_DIR)")
	timeout := flag.Duration("timeout", 5*time.Second, "read timeout for the registry roundtrip")
	asJSON := flag.Bool("json", false, "print globals as JSON")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("wlinfo")

	cfg := transport.DefaultConfig()
	cfg.ReadTimeout = *timeout
	list, err := fetchGlobals(context.Background(), *runtimeDir, *socket, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wlinfo: %v\n", err)
		os.Exit(1)
	}
	if err := printGlobals(os.Stdout, list, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "wlinfo: %v\n", err)
		os.Exit(1)
	}
}

// fetchGlobals connects, collects the initial advertisement and disconnects.
func fetchGlobals(ctx context.Context, runtimeDir, socket string, cfg transport.Config) (*client.GlobalList, error) {
	path, err := transport.SocketPath(runtimeDir, socket)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, path, cfg)
	if err != nil {
		return nil, err
	}
	cl, err := client.Connect(conn, client.Config{ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer cl.Close()

	list := &client.GlobalList{}
	if _, err := cl.GetRegistry(list); err != nil {
		return nil, err
	}
	if err := cl.Roundtrip(); err != nil {
		return nil, err
	}
	log.Debug().Str("socket", path).Int("globals", len(list.Globals)).Msg("registry listed")
	return list, nil
}

func printGlobals(w io.Writer, list *client.GlobalList, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list.Globals)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINTERFACE\tVERSION")
	for _, g := range list.Globals {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", g.Name, g.Interface, g.Version)
	}
	return tw.Flush()
}
