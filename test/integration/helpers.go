package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"TrustLedger/client"
	"TrustLedger/internal/ledger"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running ledgerd process.
type Node struct {
	index    int                // index is the node's position in the cluster
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	quicAddr string             // quicAddr is the QUIC gossip address
	dataDir  string             // dataDir is the node's data directory
	keyPath  string             // keyPath is the node's private key file
	args     []string           // args are the flags the node was started with
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
}

// Client returns an admin API client for the node.
func (n *Node) Client() *client.Client { return client.New(n.httpAddr) }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "node ready") {
		return false
	}

	return n.cmd.ProcessState == nil
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// Stop terminates the node process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		// Wait runs in the background goroutine started with the process.
		time.Sleep(100 * time.Millisecond)
	}
}

// clusterOpts holds configuration for a Cluster.
type clusterOpts struct {
	httpBase     int           // httpBase is the starting HTTP port
	quicBase     int           // quicBase is the starting QUIC port
	syncInterval time.Duration // syncInterval is passed to every node
	authority    string        // authority is the signing scheme of node 0 ("" for none)
}

// ClusterOption configures cluster behavior.
type ClusterOption func(*clusterOpts)

// WithHTTPBase sets the first HTTP port.
func WithHTTPBase(port int) ClusterOption { return func(o *clusterOpts) { o.httpBase = port } }

// WithQUICBase sets the first QUIC port.
func WithQUICBase(port int) ClusterOption { return func(o *clusterOpts) { o.quicBase = port } }

// WithSyncInterval sets the nodes' anti-entropy interval.
func WithSyncInterval(d time.Duration) ClusterOption {
	return func(o *clusterOpts) { o.syncInterval = d }
}

// WithAuthority makes node 0 publish with the given scheme.
func WithAuthority(scheme string) ClusterOption { return func(o *clusterOpts) { o.authority = scheme } }

// Cluster is a set of ledgerd processes dialing node 0.
type Cluster struct {
	t          *testing.T
	binaryPath string
	nodes      []*Node
	testDir    string
	opts       clusterOpts
}

// NewCluster builds the binary, starts N nodes, and registers cleanup.
func NewCluster(t *testing.T, size int, options ...ClusterOption) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := clusterOpts{
		httpBase:     18000,
		quicBase:     19000,
		syncInterval: time.Second,
		authority:    "ed25519",
	}
	for _, o := range options {
		o(&opts)
	}

	c := &Cluster{
		t:          t,
		binaryPath: buildBinary(t),
		testDir:    t.TempDir(),
		opts:       opts,
	}

	t.Cleanup(c.Stop)

	for i := 0; i < size; i++ {
		c.AddNode()
	}

	return c
}

// AddNode starts one more node. Every node after the first dials node 0.
func (c *Cluster) AddNode() *Node {
	c.t.Helper()

	index := len(c.nodes)
	node := &Node{
		index:    index,
		httpAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.httpBase+index),
		quicAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.quicBase+index),
		dataDir:  filepath.Join(c.testDir, fmt.Sprintf("node-%d", index)),
	}
	node.keyPath = filepath.Join(node.dataDir, "key")

	if err := os.MkdirAll(node.dataDir, 0755); err != nil {
		c.t.Fatalf("create node dir %d: %v", index, err)
	}

	node.args = c.buildNodeArgs(node)
	c.nodes = append(c.nodes, node)

	c.start(node)
	return node
}

// Restart stops node i and starts it again on the same data directory.
func (c *Cluster) Restart(i int) *Node {
	c.t.Helper()

	node := c.nodes[i]
	node.Stop()
	c.start(node)

	return node
}

// start launches the node process and waits for it to report ready.
func (c *Cluster) start(node *Node) {
	c.t.Helper()

	node.stdout = &safeBuffer{}
	node.stderr = &safeBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, c.binaryPath, node.args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		c.t.Fatalf("start node %d: %v", node.index, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()

	deadline := time.Now().Add(10 * time.Second)
	for !node.IsRunning() {
		if time.Now().After(deadline) {
			c.t.Fatalf("node %d did not start:\nSTDOUT:\n%s\nSTDERR:\n%s",
				node.index, node.stdout.String(), node.stderr.String())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// buildNodeArgs constructs command-line arguments for a node.
func (c *Cluster) buildNodeArgs(node *Node) []string {
	args := []string{
		"-data", node.dataDir,
		"-http", node.httpAddr,
		"-quic", node.quicAddr,
		"-key", node.keyPath,
		"-sync-interval", c.opts.syncInterval.String(),
		"-log-level", "debug",
	}

	if node.index == 0 {
		if c.opts.authority != "" {
			args = append(args, "-authority", c.opts.authority)
		}
		return args
	}

	return append(args, "-peers", c.nodes[0].quicAddr)
}

// Stop kills all nodes in parallel.
func (c *Cluster) Stop() {
	var wg sync.WaitGroup

	for _, node := range c.nodes {
		wg.Add(1)

		go func(n *Node) {
			defer wg.Done()
			n.Stop()
		}(node)
	}

	wg.Wait()
}

// Node returns a node by index.
func (c *Cluster) Node(i int) *Node { return c.nodes[i] }

// Nodes returns all nodes.
func (c *Cluster) Nodes() []*Node { return c.nodes }

// WaitForVersion waits until every node reports version of authority h.
func (c *Cluster) WaitForVersion(h ledger.Hash, version uint64, timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)

	for {
		behind := c.behind(h, version)
		if len(behind) == 0 {
			return
		}

		if time.Now().After(deadline) {
			c.t.Fatalf("nodes %v did not reach version %d of %s", behind, version, h.Short())
		}

		time.Sleep(200 * time.Millisecond)
	}
}

// behind returns the indices of nodes below version of h.
func (c *Cluster) behind(h ledger.Hash, version uint64) []int {
	var out []int

	for _, n := range c.nodes {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		previews, err := n.Client().Previews(ctx)
		cancel()

		if err != nil || previews[h] < version {
			out = append(out, n.index)
		}
	}

	return out
}

// buildBinary compiles the ledgerd binary.
// Uses a unique temp file per test to avoid races when running in parallel.
func buildBinary(t *testing.T) string {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "ledgerd")

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/ledgerd")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
