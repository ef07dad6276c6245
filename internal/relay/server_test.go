package relay

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/tcp-relay/internal/sink"
)

// recorder is a sink.Sink that keeps everything it is given.
type recorder struct {
	mu       sync.Mutex
	logs     []sink.LogEvent
	messages []sink.RelayMessage
}

func (r *recorder) PublishLog(ev sink.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, ev)
}

func (r *recorder) PublishRelayMessage(msg sink.RelayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Text
	}
	return out
}

func (r *recorder) countLogs(level sink.Level, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.logs {
		if ev.Level == level && ev.Message == message {
			n++
		}
	}
	return n
}

func (r *recorder) hasLogPrefix(level sink.Level, prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.logs {
		if ev.Level == level && strings.HasPrefix(ev.Message, prefix) {
			return true
		}
	}
	return false
}

// fakeHandle is a registry.Handle that records sends and optionally fails.
type fakeHandle struct {
	id   string
	fail bool

	mu   sync.Mutex
	sent []string
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(text string) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeHandle) Close() error { return nil }

func (f *fakeHandle) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, cfg Config) (*Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg.Bind = "127.0.0.1"
	s := NewServer(cfg, rec, testLogger())
	if err := s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, rec
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func TestServer_StartStop(t *testing.T) {
	rec := &recorder{}
	s := NewServer(Config{Bind: "127.0.0.1"}, rec, testLogger())

	if s.Status().Running {
		t.Error("new server reports running")
	}
	if s.Addr() != nil {
		t.Error("new server has an address")
	}

	if err := s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.Status().Running {
		t.Error("Status().Running = false after Start")
	}
	if err := s.Start(0); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}

	port := s.Addr().(*net.TCPAddr).Port
	if rec.countLogs(sink.LevelInfo, "TCP Server started on port "+strconv.Itoa(port)) != 1 {
		t.Error("missing start log event")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}

	status := s.Status()
	if status.Running || status.ConnectedCount != 0 {
		t.Errorf("Status() = %+v, want stopped with 0 clients", status)
	}
	if got := rec.countLogs(sink.LevelInfo, "TCP Server stopped"); got != 1 {
		t.Errorf("stop log events = %d, want 1", got)
	}
	if err := s.Start(0); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	rec := &recorder{}
	s := NewServer(Config{Bind: "127.0.0.1"}, rec, testLogger())

	if err := s.Start(port); err == nil {
		s.Stop()
		t.Fatal("Start on a taken port should fail")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if !rec.hasLogPrefix(sink.LevelError, "TCP Server error: ") {
		t.Error("missing error log event")
	}

	// A failed start does not finish the server.
	if err := s.Start(0); err != nil {
		t.Fatalf("retry Start failed: %v", err)
	}
	s.Stop()
}

func TestServer_RelaysMessages(t *testing.T) {
	s, rec := startServer(t, DefaultConfig())
	conn := dial(t, s)
	id := conn.LocalAddr().String()

	waitFor(t, "connected event", func() bool {
		return rec.countLogs(sink.LevelInfo, "TCP Client connected: "+id) == 1
	})

	for _, chunk := range []string{"hel", "lo\n  wor", "ld  \n\n", "\xffx\n", "partial"} {
		conn.Write([]byte(chunk))
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, "three messages", func() bool { return len(rec.texts()) == 3 })

	want := []string{"hello", "world", "\uFFFDx"}
	got := rec.texts()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
	if rec.countLogs(sink.LevelInfo, "TCP ["+id+"]: hello") != 1 {
		t.Error("missing relay log event")
	}

	conn.Close()
	waitFor(t, "disconnect", func() bool { return s.Status().ConnectedCount == 0 })
	waitFor(t, "disconnect event", func() bool {
		return rec.countLogs(sink.LevelInfo, "TCP Client disconnected: "+id) == 1
	})

	// The unterminated residual is never delivered.
	if len(rec.texts()) != 3 {
		t.Errorf("got %d messages after EOF, want 3", len(rec.texts()))
	}
}

func TestServer_Commands(t *testing.T) {
	s, rec := startServer(t, DefaultConfig())

	conns := []net.Conn{dial(t, s), dial(t, s), dial(t, s)}
	waitFor(t, "three clients", func() bool { return s.Status().ConnectedCount == 3 })

	r := bufio.NewReader(conns[0])
	tests := []struct {
		send string
		want string
	}{
		{"COMMAND:GET_STATUS", "STATUS:OK"},
		{"COMMAND:get_clients", "CLIENTS:3"},
		{"COMMAND:  Get_Status  ", "STATUS:OK"},
		{"COMMAND:reboot", "UNKNOWN_COMMAND:reboot"},
	}
	for _, tt := range tests {
		conns[0].Write([]byte(tt.send + "\n"))
		if got := readLine(t, r); got != tt.want {
			t.Errorf("reply to %q = %q, want %q", tt.send, got, tt.want)
		}
	}

	// Commands are forwarded like any other message.
	waitFor(t, "command relay", func() bool { return len(rec.texts()) == len(tests) })

	// Other peers see no replies.
	conns[1].SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if n, _ := conns[1].Read(make([]byte, 16)); n != 0 {
		t.Errorf("bystander received %d bytes", n)
	}

	if got := s.Stats().Commands; got != int64(len(tests)) {
		t.Errorf("Stats().Commands = %d, want %d", got, len(tests))
	}
}

func TestServer_SendToOne(t *testing.T) {
	s, _ := startServer(t, DefaultConfig())
	conn := dial(t, s)
	id := conn.LocalAddr().String()
	waitFor(t, "registration", func() bool { return s.Status().ConnectedCount == 1 })

	res := s.SendToOne(id, "ping")
	if !res.OK() {
		t.Fatalf("SendToOne failed: %v", res.Err)
	}
	if got := readLine(t, bufio.NewReader(conn)); got != "ping" {
		t.Errorf("received %q, want %q", got, "ping")
	}

	res = s.SendToOne("10.0.0.1:1", "ping")
	if !errors.Is(res.Err, ErrUnknownClient) {
		t.Errorf("SendToOne(unknown) = %v, want ErrUnknownClient", res.Err)
	}

	results := s.SendToMany([]string{"10.0.0.1:1", id}, "pong")
	if len(results) != 2 || results[0].OK() || !results[1].OK() {
		t.Errorf("SendToMany() = %+v, want [fail ok]", results)
	}
}

func TestServer_SendWhenStopped(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, testLogger())

	if res := s.SendToOne("127.0.0.1:1", "x"); !errors.Is(res.Err, ErrNotRunning) {
		t.Errorf("SendToOne() = %v, want ErrNotRunning", res.Err)
	}
	if res := s.BroadcastToAll("x"); len(res) != 0 {
		t.Errorf("BroadcastToAll() = %v, want empty", res)
	}
}

func TestServer_BroadcastFaultIsolation(t *testing.T) {
	s, _ := startServer(t, DefaultConfig())

	handles := []*fakeHandle{
		{id: "10.0.0.1:1000"},
		{id: "10.0.0.2:1000", fail: true},
		{id: "10.0.0.3:1000"},
	}
	for _, h := range handles {
		if err := s.registry.Add(h.id, h); err != nil {
			t.Fatalf("Add(%s): %v", h.id, err)
		}
	}

	results := s.BroadcastToAll("news")
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.ClientID != handles[i].id {
			t.Errorf("result %d for %s, want %s", i, res.ClientID, handles[i].id)
		}
		if res.OK() == handles[i].fail {
			t.Errorf("result %d OK() = %v, want %v", i, res.OK(), !handles[i].fail)
		}
	}
	for _, i := range []int{0, 2} {
		if got := handles[i].received(); len(got) != 1 || got[0] != "news" {
			t.Errorf("handle %d received %v, want [news]", i, got)
		}
	}

	stats := s.Stats()
	if stats.Delivered != 2 || stats.SendFailures != 1 {
		t.Errorf("Stats() = %+v, want 2 delivered and 1 failure", stats)
	}
}

func TestServer_StopClosesPeers(t *testing.T) {
	s, rec := startServer(t, DefaultConfig())
	a := dial(t, s)
	b := dial(t, s)
	waitFor(t, "two clients", func() bool { return s.Status().ConnectedCount == 2 })

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if s.Status().ConnectedCount != 0 {
		t.Errorf("ConnectedCount = %d after Stop, want 0", s.Status().ConnectedCount)
	}

	for _, c := range []net.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
			t.Errorf("read after Stop = %v, want EOF", err)
		}
		id := c.LocalAddr().String()
		if got := rec.countLogs(sink.LevelInfo, "TCP Client disconnected: "+id); got != 1 {
			t.Errorf("disconnect events for %s = %d, want 1", id, got)
		}
	}
}

func TestServer_LineTooLong(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLineBytes = 8
	s, rec := startServer(t, cfg)
	conn := dial(t, s)
	id := conn.LocalAddr().String()

	conn.Write([]byte("ok\n" + strings.Repeat("x", 32)))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(make([]byte, 1))
	var ne net.Error
	if err == nil || (errors.As(err, &ne) && ne.Timeout()) {
		t.Errorf("read = %v, want closed connection after oversized line", err)
	}

	waitFor(t, "fault event", func() bool {
		return rec.hasLogPrefix(sink.LevelError, "TCP Client "+id+" error: ")
	})
	if got := rec.texts(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("messages = %v, want [ok]", got)
	}
	if s.Stats().Faults != 1 {
		t.Errorf("Stats().Faults = %d, want 1", s.Stats().Faults)
	}
}

func TestServer_DuplicateIdentityRejected(t *testing.T) {
	s, rec := startServer(t, DefaultConfig())

	server, client := net.Pipe()
	defer client.Close()

	existing := &fakeHandle{id: peerID(server)}
	if err := s.registry.Add(existing.id, existing); err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.handle(s.ctx, server)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return for duplicate identity")
	}

	if h, ok := s.registry.Get(existing.id); !ok || h != existing {
		t.Error("first registration was replaced or removed")
	}
	if _, err := client.Write([]byte("x")); err == nil {
		t.Error("duplicate connection was not closed")
	}
	if !rec.hasLogPrefix(sink.LevelWarning, "TCP Client "+existing.id+" rejected") {
		t.Error("missing rejection log event")
	}
	if s.Stats().Rejected != 1 {
		t.Errorf("Stats().Rejected = %d, want 1", s.Stats().Rejected)
	}
}

func TestServer_ChurnDuringBroadcast(t *testing.T) {
	s, _ := startServer(t, DefaultConfig())
	addr := s.Addr().String()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					continue
				}
				conn.Write([]byte("hi\n"))
				time.Sleep(time.Millisecond)
				conn.Close()
			}
		}()
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, res := range s.BroadcastToAll("tick") {
			if res.ClientID == "" {
				t.Fatal("result without client id")
			}
		}
	}
	close(stop)
	wg.Wait()

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if s.Status().ConnectedCount != 0 {
		t.Errorf("ConnectedCount = %d after Stop, want 0", s.Status().ConnectedCount)
	}
}

func TestServer_Clock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := &recorder{}
	s := NewServer(Config{Bind: "127.0.0.1"}, rec, testLogger(), WithClock(func() time.Time { return fixed }))
	if err := s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.logs) == 0 || !rec.logs[0].ServerTime.Equal(fixed) {
		t.Errorf("start event time = %v, want %v", rec.logs, fixed)
	}
	if rec.logs[0].ClientID != sink.ServerClientID {
		t.Errorf("ClientID = %q, want %q", rec.logs[0].ClientID, sink.ServerClientID)
	}
}

func TestServer_ReadFaultIsolated(t *testing.T) {
	s, rec := startServer(t, DefaultConfig())

	broken := dial(t, s)
	healthy := dial(t, s)
	brokenID := broken.LocalAddr().String()
	healthyID := healthy.LocalAddr().String()
	waitFor(t, "two clients", func() bool { return s.Status().ConnectedCount == 2 })

	// Abort the first peer with a reset instead of a clean FIN.
	if err := broken.(*net.TCPConn).SetLinger(0); err != nil {
		t.Fatalf("SetLinger: %v", err)
	}
	broken.Close()

	waitFor(t, "broken peer removed", func() bool {
		return rec.countLogs(sink.LevelInfo, "TCP Client disconnected: "+brokenID) == 1
	})
	if !s.registry.Contains(healthyID) {
		t.Fatalf("healthy peer %s dropped with the broken one", healthyID)
	}

	r := bufio.NewReader(healthy)
	healthy.Write([]byte("COMMAND:GET_STATUS\n"))
	if got := readLine(t, r); got != "STATUS:OK" {
		t.Errorf("reply = %q, want STATUS:OK", got)
	}
	healthy.Write([]byte("still here\n"))
	waitFor(t, "healthy message relayed", func() bool {
		for _, text := range rec.texts() {
			if text == "still here" {
				return true
			}
		}
		return false
	})

	s.Stop()
	for _, id := range []string{brokenID, healthyID} {
		if n := rec.countLogs(sink.LevelInfo, "TCP Client disconnected: "+id); n != 1 {
			t.Errorf("disconnect events for %s = %d, want 1", id, n)
		}
	}
}
