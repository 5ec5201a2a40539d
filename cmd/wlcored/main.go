package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wlcore/internal/admin"
	"github.com/danmuck/wlcore/internal/config"
	"github.com/danmuck/wlcore/internal/logging"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/server"
	"github.com/danmuck/wlcore/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "daemon config path (defaults when empty)")
	initPath := flag.String("init", "", "write an example config to this path and exit")
	socket := flag.String("socket", "", "socket name or absolute path, overrides the config")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("wlcored")

	if *initPath != "" {
		if err := config.WriteTemplate(*initPath, false); err != nil {
			fmt.Fprintf(os.Stderr, "wlcored: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", *initPath).Msg("wrote config template")
		return
	}

	cfg := config.DefaultDaemonConfig()
	if *configPath != "" {
		loaded, err := config.LoadDaemonConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load daemon config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded daemon config")
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("wlcored stopped")
	}
	log.Info().Msg("wlcored stopped")
}

func run(ctx context.Context, cfg config.DaemonConfig) error {
	path, err := transport.SocketPath(cfg.RuntimeDir, cfg.Socket)
	if err != nil {
		return err
	}
	ln, err := transport.Listen(path)
	if err != nil {
		return err
	}

	backend := server.NewBackend(server.Config{WriteTimeout: cfg.WriteTimeout})
	if err := registerGlobals(backend, cfg.Globals); err != nil {
		_ = ln.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return acceptLoop(ctx, g, ln, backend)
	})
	if cfg.AdminAddr != "" {
		adm := admin.New("wlcored", cfg.AdminAddr, backend, cfg.CorsOrigins)
		adm.SetReady(true)
		g.Go(func() error {
			return adm.Serve(ctx)
		})
	}
	log.Info().Str("socket", path).Msg("wlcored listening")
	return g.Wait()
}

// acceptLoop serves every accepted connection in its own goroutine of g.
func acceptLoop(ctx context.Context, g *errgroup.Group, ln *net.UnixListener, backend *server.Backend) error {
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		id, err := admit(backend, conn)
		if err != nil {
			log.Warn().Err(err).Msg("client rejected")
			continue
		}
		g.Go(func() error {
			if err := backend.Serve(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("client", id.String()).Msg("client serve failed")
			}
			return nil
		})
	}
}

// admit registers conn and records its uid for global visibility.
func admit(backend *server.Backend, conn *net.UnixConn) (server.ClientID, error) {
	p := &peer{}
	id, err := backend.InsertClient(conn, p)
	if err != nil {
		return server.ClientID{}, err
	}
	_ = backend.Do(func(h *server.Handle) error {
		cred, err := h.ClientCredentials(id)
		if err != nil {
			log.Warn().Err(err).Str("client", id.String()).Msg("no peer credentials")
			return nil
		}
		p.uid, p.hasCred = cred.Uid, true
		return nil
	})
	return id, nil
}
