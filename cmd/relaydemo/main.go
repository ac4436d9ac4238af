// Command relaydemo is a reference embedder for the thinrelay engine: it
// dials or listens for one peer, wires up the injected capabilities spec
// §6 calls for with toy implementations, and logs every relay event to
// stdout. It exists to show the wiring, not to be a real relay node.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"thinrelay.dev/engine/chain"
	"thinrelay.dev/engine/crypto"
	"thinrelay.dev/engine/relay"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relaydemo", flag.ContinueOnError)
	fs.SetOutput(stderr)

	listenAddr := fs.String("listen", "", "listen address host:port (responder mode)")
	dialAddr := fs.String("dial", "", "peer address host:port to dial (initiator mode)")
	relayFile := fs.String("relay-file", "", "path to a file of newline-separated hex-encoded transactions to relay to the peer once negotiated")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := log.New(stdout, "relaydemo: ", log.LstdFlags)

	switch {
	case *listenAddr != "":
		return runListener(*listenAddr, *relayFile, logger, stderr)
	case *dialAddr != "":
		return runDialer(*dialAddr, *relayFile, logger, stderr)
	default:
		_, _ = fmt.Fprintln(stderr, "relaydemo: exactly one of -listen or -dial is required")
		return 2
	}
}

func runListener(addr, relayFile string, logger *log.Logger, stderr io.Writer) int {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "listen failed: %v\n", err)
		return 2
	}
	defer ln.Close()
	logger.Printf("listening on %s", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "accept failed: %v\n", err)
		return 2
	}
	defer conn.Close()
	logger.Printf("accepted connection from %s", conn.RemoteAddr())

	return serve(conn, relay.RoleResponder, relayFile, logger, stderr)
}

func runDialer(addr, relayFile string, logger *log.Logger, stderr io.Writer) int {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "dial failed: %v\n", err)
		return 2
	}
	defer conn.Close()
	logger.Printf("connected to %s", conn.RemoteAddr())

	return serve(conn, relay.RoleInitiator, relayFile, logger, stderr)
}

// syncWriter guards a net.Conn against interleaved writes from the
// session's own handshake/keepalive replies (driven off the receive
// goroutine) and the send pipeline's pool workers (spec §5: distinct
// goroutines writing to the same connection need their bytes serialized
// at the socket, on top of the per-peer send mutex PeerCaches already
// provides for cache consistency).
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// serve drives one connection's Session to completion, logging every
// callback event (SPEC_FULL.md §4: cmd/relaydemo adapts rubin-node's
// main.go habit of narrating everything it does to stdout via log). If
// relayFile is set, it also drives the send side (Sender + SendPipeline)
// once negotiation completes, relaying each line's transaction to the
// peer (spec §5's two bounded worker pools).
func serve(conn net.Conn, role relay.Role, relayFile string, logger *log.Logger, stderr io.Writer) int {
	w := &syncWriter{w: conn}
	cb := &demoCallbacks{logger: logger, negotiated: make(chan struct{})}
	session := relay.NewSession(relay.SessionConfig{
		Role:      role,
		Writer:    w,
		Callbacks: cb,
		Validator: acceptAllValidator{},
		Interner:  crypto.NewSHA3Interner(),
	})

	if err := session.Start(); err != nil {
		_, _ = fmt.Fprintf(stderr, "start failed: %v\n", err)
		return 2
	}

	if relayFile != "" {
		go relayFromFile(session, w, cb.negotiated, relayFile, logger)
	}

	buf := make([]byte, 64*1024)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) > 0 {
				consumed, ferr := session.Feed(pending)
				pending = pending[consumed:]
				if ferr != nil {
					logger.Printf("protocol error: %v (ban_delta=%d disconnect=%v)", ferr, ferr.BanScoreDelta, ferr.Disconnect)
					if ferr.Disconnect {
						return 1
					}
					break
				}
				if consumed == 0 {
					break
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				logger.Printf("peer closed connection")
				return 0
			}
			_, _ = fmt.Fprintf(stderr, "read failed: %v\n", err)
			return 1
		}
	}
}

// relayFromFile waits for negotiation to complete, then builds a Sender
// and SendPipeline bound to the session's negotiated caches and relays
// one transaction per non-empty line of path (hex-encoded raw bytes).
func relayFromFile(session *relay.Session, w io.Writer, negotiated <-chan struct{}, path string, logger *log.Logger) {
	<-negotiated

	sender := relay.NewSender(w, session.Mode(), session.MaxFreeTxBytes(), session.SharedCaches())
	pipeline := relay.NewSendPipeline(sender, logger)
	defer pipeline.Close()

	f, err := os.Open(path)
	if err != nil {
		logger.Printf("relay-file: open failed: %v", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			logger.Printf("relay-file: skipping invalid hex line %q: %v", line, err)
			continue
		}
		pipeline.EnqueueTransaction(chain.Transaction{Bytes: raw})
	}
	if err := scanner.Err(); err != nil {
		logger.Printf("relay-file: read failed: %v", err)
	}
}

// acceptAllValidator is a toy Validator: real semantic validation (script
// execution, Merkle-root checks, PoW) is out of scope for this engine
// (spec §1) and belongs to whatever full node embeds it.
type acceptAllValidator struct{}

func (acceptAllValidator) VerifyTransaction(tx chain.Transaction) (chain.Transaction, error) {
	return tx, nil
}

func (acceptAllValidator) VerifyBlock(block chain.Block) error {
	return nil
}

// demoCallbacks logs every receive-path event; a real embedder would hand
// blocks and transactions off to its own mempool/chainstate instead.
// negotiated is closed the first time OnConnected fires, signaling
// relayFromFile that session.Mode/MaxFreeTxBytes/SharedCaches are now
// valid to read.
type demoCallbacks struct {
	logger     *log.Logger
	blockCount atomic.Uint64
	txCount    atomic.Uint64

	negotiated     chan struct{}
	negotiatedOnce sync.Once
}

func (c *demoCallbacks) OnBlockHeader(header chain.BlockHeader) {
	hash := header.Hash()
	c.logger.Printf("block header received: %x", hash)
}

func (c *demoCallbacks) OnBlock(block chain.Block) {
	n := c.blockCount.Add(1)
	c.logger.Printf("block assembled: hash=%x txs=%d (total blocks=%d)", block.Hash(), len(block.Txs), n)
}

func (c *demoCallbacks) OnTransaction(tx chain.Transaction) {
	n := c.txCount.Add(1)
	c.logger.Printf("transaction received: hash=%x (total txs=%d)", tx.Hash(), n)
}

func (c *demoCallbacks) OnLog(line string) {
	c.logger.Print(line)
}

func (c *demoCallbacks) OnLogStats(line string) {
	c.logger.Print(line)
}

func (c *demoCallbacks) OnConnected(line string) {
	c.logger.Print(line)
	if c.negotiated != nil {
		c.negotiatedOnce.Do(func() { close(c.negotiated) })
	}
}
