// sketchsync hosts or joins a shared drawing overlay session on the local
// network. One participant hosts the relay; everyone else joins it, draws,
// and stays in sync even when the network reorders or replays traffic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/board"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/export"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/hub"
	lan "github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/net"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func run() error {
	listen := flag.String("listen", ":8787", "host a session on this address")
	join := flag.String("join", "", "join a session at host:port instead of hosting")
	discover := flag.Bool("discover", false, "find a session on the LAN and join it")
	exportPath := flag.String("export", "", "write the overlay to this PDF on exit")
	scribble := flag.Bool("scribble", false, "draw synthetic strokes and labels")
	noMDNS := flag.Bool("no-mdns", false, "do not announce the session on the LAN")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *join != "" || *discover {
		return runJoin(ctx, *join, *scribble, *exportPath)
	}
	return runHost(ctx, *listen, !*noMDNS, *scribble, *exportPath)
}

func runHost(ctx context.Context, addr string, announce, scribble bool, exportPath string) error {
	session := uuid.NewString()
	relay := lan.NewRelay(session)
	h := hub.New(lan.HostID, true, nil, relay, hub.Options{})

	router := mux.NewRouter()
	router.Use(lan.LogRequests)
	relay.Attach(router)
	router.HandleFunc("/stats", statsHandler(session, relay, h))
	router.HandleFunc("/export.pdf", exportHandler(session, h))

	srv := &http.Server{Addr: addr, Handler: router}
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("[main] hosting session %s on %s", session, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	if announce {
		port := portOf(addr)
		if server, err := lan.Advertise(session, port); err != nil {
			log.Printf("[main] mdns advertise: %v", err)
		} else {
			defer server.Shutdown()
		}
		if ip, err := lan.OutgoingIP(); err == nil {
			log.Printf("[main] join with: -join %s:%d", ip, port)
		}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Run(hubCtx) }()

	if scribble {
		go scribbleLoop(hubCtx, h)
	}

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		return fmt.Errorf("http server: %w", err)
	}
	log.Printf("[main] shutting down")

	// Export before stopping the hub: the replay runs on its loop.
	if exportPath != "" {
		exportOverlay(session, h, exportPath)
	}
	stopHub()
	<-hubDone

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
	relay.Close()
	return nil
}

func runJoin(ctx context.Context, addr string, scribble bool, exportPath string) error {
	if addr == "" {
		log.Printf("[main] browsing the LAN for sessions")
		endpoints, err := lan.Browse(3 * time.Second)
		if len(endpoints) == 0 {
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			return errors.New("no session found on the LAN")
		}
		ep := endpoints[0]
		log.Printf("[main] found session %s at %s", ep.Session, ep.Addr)
		addr = ep.Addr
	}

	client, err := lan.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	h := hub.New(client.AuthorID(), false, nil, client, hub.Options{})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Run(hubCtx) }()

	// Catch up on whatever was drawn before we arrived.
	h.RequestResync()

	if scribble {
		go scribbleLoop(hubCtx, h)
	}

	select {
	case <-ctx.Done():
	case err := <-hubDone:
		return err
	}
	log.Printf("[main] leaving session")

	if exportPath != "" {
		exportOverlay(client.Session(), h, exportPath)
	}
	stopHub()
	<-hubDone
	return nil
}

func exportOverlay(session string, h *hub.Hub, path string) {
	doc := export.NewDocument()
	doc.Title = "sketchsync " + session
	h.RenderTo(doc)
	if err := doc.Save(path); err != nil {
		log.Printf("[main] export %s: %v", path, err)
		return
	}
	strokes, labels := doc.Counts()
	log.Printf("[main] exported %d strokes, %d labels to %s", strokes, labels, path)
}

func statsHandler(session string, relay *lan.Relay, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		strokes, labels := h.Counts()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session": session,
			"peers":   relay.PeerCount(),
			"frames":  relay.FramesRelayed(),
			"strokes": strokes,
			"labels":  labels,
		})
	}
}

func exportHandler(session string, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		doc := export.NewDocument()
		doc.Title = "sketchsync " + session
		h.RenderTo(doc)
		w.Header().Set("Content-Type", "application/pdf")
		if err := doc.Write(w); err != nil {
			log.Printf("[main] export.pdf: %v", err)
		}
	}
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 8787
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 8787
	}
	return port
}

// scribbleLoop draws random walks and the odd label, for demos and for
// soaking the sync path with real traffic.
func scribbleLoop(ctx context.Context, h *hub.Hub) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	palette := []color.RGBA{
		{R: 220, G: 60, B: 60, A: 255},
		{R: 60, G: 120, B: 220, A: 255},
		{R: 40, G: 160, B: 90, A: 255},
		{R: 230, G: 160, B: 30, A: 255},
	}
	words := []string{"pump", "valve", "intake", "drain", "meter"}

	strokes := 0
	for {
		x, y := rng.Float32(), rng.Float32()
		h.BeginStroke(board.Style{
			Color: palette[rng.Intn(len(palette))],
			Width: float32(1 + rng.Intn(4)),
		})
		steps := 10 + rng.Intn(30)
		for i := 0; i < steps; i++ {
			x = clamp01(x + (rng.Float32()-0.5)*0.04)
			y = clamp01(y + (rng.Float32()-0.5)*0.04)
			h.AddPoint(wire.Point{X: x, Y: y})
			select {
			case <-ctx.Done():
				h.EndStroke()
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		h.EndStroke()

		strokes++
		if strokes%5 == 0 {
			h.AddLabel(wire.Point{X: rng.Float32(), Y: rng.Float32()}, words[rng.Intn(len(words))])
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(300 * time.Millisecond):
		}
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
