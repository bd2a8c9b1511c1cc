package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startNode starts a node on a loopback port and closes it at test end.
func startNode(t *testing.T, cfg Config) *Node {
	t.Helper()

	if cfg.PrivateKey == nil {
		cfg.PrivateKey = generateTestKey(t)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	t.Cleanup(func() { n.Close() })

	return n
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewNodeValidatesConfig(t *testing.T) {
	if _, err := NewNode(Config{ListenAddr: ":0"}); !errors.Is(err, ErrNoPrivateKey) {
		t.Errorf("missing key: %v", err)
	}

	if _, err := NewNode(Config{PrivateKey: generateTestKey(t)}); !errors.Is(err, ErrNoListenAddr) {
		t.Errorf("missing addr: %v", err)
	}
}

func TestConnectIdentifiesPeers(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})

	var inbound atomic.Value
	server.OnConnect(func(p *Peer) { inbound.Store(p.ID()) })

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if peer.ID() != server.ID() || !bytes.Equal(peer.PublicKey(), server.PublicKey()) {
		t.Errorf("peer identity = %s, want %s", peer.ID(), server.ID())
	}

	waitFor(t, 5*time.Second, func() bool { return inbound.Load() != nil })

	if inbound.Load().(string) != client.ID() {
		t.Errorf("server saw %v, want %s", inbound.Load(), client.ID())
	}

	if _, ok := client.Peer(server.ID()); !ok {
		t.Error("client does not list server")
	}

	waitFor(t, 5*time.Second, func() bool { return len(server.Peers()) == 1 })
}

func TestConnectToSelfIsRefused(t *testing.T) {
	n := startNode(t, Config{})

	if _, err := n.Connect(n.Addr()); !errors.Is(err, ErrSelfConnect) {
		t.Errorf("err = %v, want ErrSelfConnect", err)
	}
}

func TestSendDeliversAndDeduplicates(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})

	received := make(chan []byte, 4)
	server.OnMessage(func(_ *Peer, data []byte) { received <- data })

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	msg := []byte("revocation update")

	for i := 0; i < 2; i++ {
		if err := peer.Send(msg); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, msg) {
			t.Errorf("got %q, want %q", got, msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	select {
	case <-received:
		t.Error("duplicate message delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestResponse(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})

	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		if bytes.Equal(data, []byte("fail")) {
			return nil, errors.New("handler failed")
		}
		return append([]byte("re:"), data...), nil
	})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := peer.Request(ctx, []byte("previews"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(resp) != "re:previews" {
		t.Errorf("response = %q", resp)
	}

	if _, err := peer.Request(ctx, []byte("fail")); err == nil {
		t.Error("failed handler produced a response")
	}
}

func TestRequestWithoutHandlerFails(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("x")); err == nil {
		t.Error("request succeeded without a handler")
	}
}

func TestGossipFanout(t *testing.T) {
	hub := startNode(t, Config{})

	const spokes = 4
	var delivered atomic.Int32

	for i := 0; i < spokes; i++ {
		n := startNode(t, Config{})
		n.OnMessage(func(*Peer, []byte) { delivered.Add(1) })

		if _, err := n.Connect(hub.Addr()); err != nil {
			t.Fatalf("connect spoke %d: %v", i, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return len(hub.Peers()) == spokes })

	if err := hub.Gossip([]byte("first"), 2); err != nil {
		t.Fatalf("gossip: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return delivered.Load() == 2 })

	if err := hub.Broadcast([]byte("second")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return delivered.Load() == 2+spokes })
}

func TestBootstrapRedialsLostPeer(t *testing.T) {
	serverKey := generateTestKey(t)

	server, err := NewNode(Config{PrivateKey: serverKey, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	addr := server.Addr()

	client := startNode(t, Config{RedialDelay: 100 * time.Millisecond})
	client.Bootstrap([]string{addr})

	waitFor(t, 5*time.Second, func() bool { return len(client.Peers()) == 1 })

	server.Close()

	waitFor(t, 10*time.Second, func() bool { return len(client.Peers()) == 0 })

	var reconnected atomic.Bool
	restarted, err := NewNode(Config{PrivateKey: serverKey, ListenAddr: addr})
	if err != nil {
		t.Fatalf("create restarted server: %v", err)
	}
	restarted.OnConnect(func(*Peer) { reconnected.Store(true) })

	if err := restarted.Start(); err != nil {
		t.Fatalf("restart server: %v", err)
	}
	defer restarted.Close()

	waitFor(t, 10*time.Second, reconnected.Load)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	for _, size := range []int{0, 1, 1 << 20} {
		buf.Reset()
		data := bytes.Repeat([]byte{0xab}, size)

		if err := writeFrame(&buf, data); err != nil {
			t.Fatalf("write %d: %v", size, err)
		}

		got, err := readFrame(&buf)
		if err != nil || !bytes.Equal(got, data) {
			t.Errorf("size %d: got %d bytes, %v", size, len(got), err)
		}
	}

	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized write: %v", err)
	}

	oversized := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := readFrame(bytes.NewReader(oversized)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized read: %v", err)
	}

	if _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 9, 1})); err == nil {
		t.Error("truncated frame read")
	}
}

func TestSelectRandomPeers(t *testing.T) {
	peers := make([]*Peer, 5)
	for i := range peers {
		peers[i] = &Peer{id: fmt.Sprintf("%016d", i)}
	}

	if got := selectRandomPeers(peers, 10); len(got) != 5 {
		t.Errorf("k > len: got %d", len(got))
	}

	if got := selectRandomPeers(peers, 0); len(got) != 0 {
		t.Errorf("k = 0: got %d", len(got))
	}

	got := selectRandomPeers(peers, 3)
	seen := make(map[string]bool)
	for _, p := range got {
		seen[p.id] = true
	}

	if len(got) != 3 || len(seen) != 3 {
		t.Errorf("k = 3: got %d peers, %d distinct", len(got), len(seen))
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)
	defer d.Close()

	msg := []byte("m")

	if !d.Check(msg) {
		t.Fatal("first sighting reported as duplicate")
	}

	if d.Check(msg) {
		t.Error("second sighting reported as new")
	}

	if !d.Check([]byte("other")) {
		t.Error("distinct message reported as duplicate")
	}

	time.Sleep(60 * time.Millisecond)

	if !d.Check(msg) {
		t.Error("expired message still deduplicated")
	}

	d.sweep(time.Now().Add(time.Second))
	if d.Len() != 0 {
		t.Errorf("sweep left %d entries", d.Len())
	}
}

func TestDedupConcurrent(t *testing.T) {
	d := NewDedup(0)
	defer d.Close()

	msg := []byte("contended")

	var wg sync.WaitGroup
	var fresh atomic.Int32

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Check(msg) {
				fresh.Add(1)
			}
		}()
	}

	wg.Wait()

	if fresh.Load() != 1 {
		t.Errorf("%d goroutines saw the message as new, want 1", fresh.Load())
	}
}

func BenchmarkDedupCheck(b *testing.B) {
	d := NewDedup(0)
	defer d.Close()

	msgs := make([][]byte, 4096)
	for i := range msgs {
		msgs[i] = make([]byte, 256)
		rand.Read(msgs[i])
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		d.Check(msgs[i%len(msgs)])
	}
}
