package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"concord/internal/directory"
	"concord/internal/discovery"
	"concord/internal/httpapi"
	"concord/internal/raft"
	"concord/internal/transport"
	"concord/pkg/logger"
)

type discoveryRefresher struct {
	resolver *discovery.Resolver
	node     *raft.Node
	self     string
}

func (d *discoveryRefresher) Refresh() error {
	return d.resolver.Refresh(d.node, d.self)
}

func main() {
	name := flag.String("name", "", "node name (defaults to POD_NAME or a generated id)")
	addr := flag.String("addr", "", "advertised host:port (defaults to POD_IP plus the listen port)")
	listen := flag.String("listen", ":8090", "HTTP listen address")
	peerList := flag.String("peers", "", "comma-separated static peer addresses")
	dnsService := flag.String("dns-service", envOr("SERVICE_NAME", ""), "headless service for SRV peer discovery")
	dnsNamespace := flag.String("dns-namespace", envOr("NAMESPACE", ""), "service namespace")
	dnsPortName := flag.String("dns-port-name", envOr("SERVICE_PORT_NAME", ""), "named service port")
	dnsResolver := flag.String("dns-resolver", "", "nameserver host:port (defaults to the system resolver)")
	dnsInterval := flag.Duration("dns-interval", 30*time.Second, "peer discovery refresh interval")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *name == "" {
		*name = envOr("POD_NAME", "node-"+uuid.NewString()[:8])
	}
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger.Init(*name, level)

	if *addr == "" {
		_, port, err := net.SplitHostPort(*listen)
		if err != nil {
			logger.Error("cannot derive advertised address from listen address", "listen", *listen, "err", err)
			os.Exit(1)
		}
		*addr = net.JoinHostPort(envOr("POD_IP", "localhost"), port)
	}

	var peers []string
	for _, p := range strings.Split(*peerList, ",") {
		p = strings.TrimSpace(p)
		if p != "" && p != *addr {
			peers = append(peers, p)
		}
	}

	tp := transport.New(*addr)
	applyCh := make(chan raft.ApplyMsg, 128)
	node := raft.NewNode(raft.Config{ID: *addr, Peers: peers}, tp, applyCh)
	tp.Bind(node)

	store := directory.NewStore(node, applyCh)

	var resolver *discovery.Resolver
	var refresher httpapi.Refresher
	if *dnsService != "" && *dnsNamespace != "" && *dnsPortName != "" {
		var err error
		resolver, err = discovery.New(discovery.Config{
			Service:   *dnsService,
			Namespace: *dnsNamespace,
			PortName:  *dnsPortName,
			Resolver:  *dnsResolver,
			Interval:  *dnsInterval,
		})
		if err != nil {
			logger.Error("failed to configure peer discovery", "err", err)
			os.Exit(1)
		}
		if err := resolver.Refresh(node, *addr); err != nil {
			logger.Warn("initial peer discovery failed", "query", resolver.Query(), "err", err)
		}
		refresher = &discoveryRefresher{resolver: resolver, node: node, self: *addr}
	}

	api := httpapi.New(store, node, refresher, tp.HTTPHandler())
	srv := &http.Server{
		Addr:        *listen,
		Handler:     api.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
			os.Exit(1)
		}
	}()

	node.Start()

	stopCh := make(chan struct{})
	if resolver != nil {
		go resolver.Run(node, *addr, stopCh)
	}

	logger.Info("node ready", "addr", *addr, "listen", *listen, "peers", node.Peers())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", "err", err)
	}
	node.Stop()
	tp.Close()
	logger.Info("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
