// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Command vncserverd runs a standalone RFB server exposing a synthetic
// animated gradient, grounded on bradfitz-rfbgo/demo.go and
// patdhlk-rfb/example/main.go's flag-driven demo servers.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	vnc "github.com/coreboard/vncserver"
)

var (
	width      = flag.Int("width", 1024, "synthetic framebuffer width")
	height     = flag.Int("height", 768, "synthetic framebuffer height")
	animateFPS = flag.Float64("animate-fps", 30, "gradient animation rate, in frames per second")
	pprofAddr  = flag.String("pprof-addr", "", "if set, serve net/http/pprof on this address (e.g. localhost:6060)")
)

func main() {
	flag.Parse()

	logger := &vnc.StandardLogger{}

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server ended: %v", err)
			}
		}()
	}

	cfg := vnc.LoadServerConfigFromEnv(logger)

	ln, port, err := cfg.Listen()
	if err != nil {
		log.Fatalf("failed to bind listener: %v", err)
	}
	if port != cfg.ListenPort {
		log.Printf("port %d was in use; bound %d instead", cfg.ListenPort, port)
	}

	source := vnc.NewSyntheticFramebufferSource(uint16(*width), uint16(*height))

	dispatcher := vnc.NewServerDispatcher(source, discardingInputSink{},
		append(cfg.DispatcherOptions(), vnc.WithDispatcherLogger(logger))...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go animate(ctx, source, *animateFPS)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("shutting down")
		cancel()
	}()

	log.Printf("vncserverd listening on :%d", port)
	if err := dispatcher.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		log.Fatalf("dispatcher exited: %v", err)
	}
}

// animate advances the synthetic gradient's phase at fps until ctx is
// cancelled, so the tick loop always has a changed Framebuffer.Version to
// report to attached sessions.
func animate(ctx context.Context, source *vnc.SyntheticFramebufferSource, fps float64) {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			source.Advance(2.0)
		}
	}
}

// discardingInputSink discards translated keyboard/pointer events; this demo
// binary has no host window to forward them to.
type discardingInputSink struct{}

func (discardingInputSink) HandleKey(vnc.Translation)               {}
func (discardingInputSink) HandlePointer(vnc.PointerTranslation)     {}
