package relay

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/al-bashkir/tabguard/internal/transport"
)

// startServer runs a relay on a temp socket; zero rate/burst select defaults.
func startServer(t *testing.T, publishRate rate.Limit, publishBurst int) (*Server, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "relay.sock")
	server := NewServer(socketPath, publishRate, publishBurst)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("server.Stop failed: %v", err)
		}
	})

	return server, socketPath
}

// tabConn is a test client holding one decoder for its connection so that
// frames buffered by a previous read are not lost.
type tabConn struct {
	conn net.Conn
	dec  *json.Decoder
}

func dialRelay(t *testing.T, socketPath string) *tabConn {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to connect to relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &tabConn{conn: conn, dec: json.NewDecoder(conn)}
}

func sendFrame(t *testing.T, c *tabConn, a transport.Announcement) {
	t.Helper()
	if err := json.NewEncoder(c.conn).Encode(a); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}
}

func readFrame(t *testing.T, c *tabConn, timeout time.Duration) (transport.Announcement, bool) {
	t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var a transport.Announcement
	if err := c.dec.Decode(&a); err != nil {
		return transport.Announcement{}, false
	}
	return a, true
}

func TestRelayFansOutToOtherClients(t *testing.T) {
	_, socketPath := startServer(t, 0, 0)

	sender := dialRelay(t, socketPath)
	receiver := dialRelay(t, socketPath)

	// Let the server register both connections.
	time.Sleep(100 * time.Millisecond)

	sendFrame(t, sender, transport.NewLoginAnnouncement("user-1", "session_1_aaa"))

	got, ok := readFrame(t, receiver, 2*time.Second)
	if !ok {
		t.Fatal("receiver never got the frame")
	}
	if got.UserID != "user-1" || got.SessionID != "session_1_aaa" {
		t.Errorf("unexpected frame: %+v", got)
	}
}

func TestRelayExcludesSender(t *testing.T) {
	_, socketPath := startServer(t, 0, 0)

	sender := dialRelay(t, socketPath)
	receiver := dialRelay(t, socketPath)
	time.Sleep(100 * time.Millisecond)

	sendFrame(t, sender, transport.NewLoginAnnouncement("user-1", "session_1_aaa"))

	// The other client receives it.
	if _, ok := readFrame(t, receiver, 2*time.Second); !ok {
		t.Fatal("receiver never got the frame")
	}

	// The sender's own connection stays silent.
	if a, ok := readFrame(t, sender, 300*time.Millisecond); ok {
		t.Errorf("sender received its own frame back: %+v", a)
	}
}

func TestRelayDropsIncompleteFrames(t *testing.T) {
	_, socketPath := startServer(t, 0, 0)

	sender := dialRelay(t, socketPath)
	receiver := dialRelay(t, socketPath)
	time.Sleep(100 * time.Millisecond)

	sendFrame(t, sender, transport.Announcement{Type: transport.TypeNewLogin, UserID: "", SessionID: "s"})
	sendFrame(t, sender, transport.Announcement{Type: transport.TypeNewLogin, UserID: "u", SessionID: ""})

	if a, ok := readFrame(t, receiver, 300*time.Millisecond); ok {
		t.Errorf("incomplete frame was relayed: %+v", a)
	}
}

func TestRelayRateLimitsPublisher(t *testing.T) {
	// Rate so low the bucket never refills during the test: only the
	// burst of 1 gets through.
	_, socketPath := startServer(t, 0.001, 1)

	sender := dialRelay(t, socketPath)
	receiver := dialRelay(t, socketPath)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		sendFrame(t, sender, transport.NewLoginAnnouncement("user-1", "session_1_aaa"))
	}

	if _, ok := readFrame(t, receiver, 2*time.Second); !ok {
		t.Fatal("first frame never arrived")
	}
	if a, ok := readFrame(t, receiver, 300*time.Millisecond); ok {
		t.Errorf("rate-limited frame was relayed: %+v", a)
	}
}

func TestRelayStats(t *testing.T) {
	server, socketPath := startServer(t, 0, 0)

	if got := server.Stats(); got.Clients != 0 || got.FramesRelayed != 0 {
		t.Errorf("fresh server stats = %+v", got)
	}

	sender := dialRelay(t, socketPath)
	receiver := dialRelay(t, socketPath)
	time.Sleep(100 * time.Millisecond)

	if got := server.Stats(); got.Clients != 2 {
		t.Errorf("clients = %d, want 2", got.Clients)
	}

	sendFrame(t, sender, transport.NewLoginAnnouncement("user-1", "session_1_aaa"))
	if _, ok := readFrame(t, receiver, 2*time.Second); !ok {
		t.Fatal("frame never arrived")
	}

	if got := server.Stats(); got.FramesRelayed != 1 {
		t.Errorf("frames relayed = %d, want 1", got.FramesRelayed)
	}
}

func TestRelaySocketPermissions(t *testing.T) {
	_, socketPath := startServer(t, 0, 0)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("failed to stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0660 {
		t.Errorf("socket permissions = %o, want 660", perm)
	}
}

func TestRelayStopRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "relay.sock")
	server := NewServer(socketPath, 0, 0)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file still present after Stop")
	}
}

func TestRelayReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "relay.sock")

	// Leave a stale socket file behind, as a crashed daemon would.
	stale, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to create stale socket: %v", err)
	}
	_ = stale.Close()
	if _, err := os.Stat(socketPath); err != nil {
		// Close removed the file; recreate a plain file in its place.
		if err := os.WriteFile(socketPath, nil, 0600); err != nil {
			t.Fatalf("failed to plant stale file: %v", err)
		}
	}

	server := NewServer(socketPath, 0, 0)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start relay over stale socket: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
