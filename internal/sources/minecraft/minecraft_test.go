package minecraft

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
)

func TestProgressBoundaries(t *testing.T) {
	cases := []struct {
		online, max, want int
	}{
		{0, 20, 0},
		{1, 3, 33},
		{2, 3, 66},
		{20, 20, 100},
		{25, 20, 100},
		{5, 0, 0},
		{5, -1, 0},
		{-3, 10, 0},
	}
	for _, c := range cases {
		if got := Progress(c.online, c.max); got != c.want {
			t.Errorf("Progress(%d,%d)=%d, want %d", c.online, c.max, got, c.want)
		}
	}
}

func sourceWith(t *testing.T, opts string, probe Prober) *Source {
	t.Helper()
	var tc config.TaskConfig
	if err := json.Unmarshal([]byte(opts), &tc); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Tasks: map[string]config.TaskConfig{Name: tc}}
	s := New(sourcekit.Env{Config: func() *config.Config { return cfg }})
	s.probe = probe
	return s
}

func TestFetchOnlineAndOffline(t *testing.T) {
	var gotJava bool
	s := sourceWith(t, `{"server_addr":"mc.example.com"}`, func(_ context.Context, addr string, java bool) (Players, error) {
		gotJava = java
		return Players{Online: 3, Max: 10}, nil
	})
	p, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !gotJava {
		t.Fatalf("java edition should default to true")
	}
	if p["text"] != "3" || p["progress"] != 30 || p["icon"] != onlineIcon {
		t.Fatalf("payload=%v", p)
	}

	s = sourceWith(t, `{"server_addr":"mc.example.com","java_edition":false}`, func(_ context.Context, _ string, java bool) (Players, error) {
		if java {
			t.Errorf("expected bedrock probe")
		}
		return Players{}, errors.New("connection refused")
	})
	p, err = s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch offline: %v", err)
	}
	if p["text"] != "Off" || p["icon"] != offlineIcon {
		t.Fatalf("offline payload=%v", p)
	}
}

func TestFetchRequiresAddress(t *testing.T) {
	s := sourceWith(t, `{}`, Probe)
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatalf("expected config error")
	}
}

// serveStatus answers one Server List Ping with the given JSON.
func serveStatus(t *testing.T, ln net.Listener, status string) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	// handshake + status request
	for i := 0; i < 2; i++ {
		n, err := readVarInt(r)
		if err != nil {
			t.Errorf("read packet length: %v", err)
			return
		}
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			t.Errorf("read packet: %v", err)
			return
		}
	}

	var body bytes.Buffer
	writeVarInt(&body, 0x00)
	writeString(&body, status)
	var out bytes.Buffer
	writePacket(&out, body.Bytes())
	_, _ = conn.Write(out.Bytes())
}

func TestPingJava(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go serveStatus(t, ln, `{"version":{"name":"1.21","protocol":767},"players":{"online":4,"max":20},"description":"hi"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p, err := Probe(ctx, ln.Addr().String(), true)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if p.Online != 4 || p.Max != 20 {
		t.Fatalf("players=%+v", p)
	}
}

func TestPingJavaRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Probe(ctx, addr, true); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestParsePong(t *testing.T) {
	motd := "MCPE;Dedicated Server;712;1.21.20;7;30;1234;Bedrock level;Survival;1;19132;19133;"
	var b bytes.Buffer
	b.WriteByte(0x1c)
	_ = binary.Write(&b, binary.BigEndian, int64(1))
	_ = binary.Write(&b, binary.BigEndian, int64(2))
	b.Write(raknetMagic)
	_ = binary.Write(&b, binary.BigEndian, uint16(len(motd)))
	b.WriteString(motd)

	p, err := parsePong(b.Bytes())
	if err != nil {
		t.Fatalf("parsePong: %v", err)
	}
	if p.Online != 7 || p.Max != 30 {
		t.Fatalf("players=%+v", p)
	}
	if _, err := parsePong([]byte{0x1c, 0x00}); err == nil {
		t.Fatalf("expected short pong error")
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, 127, 128, 255, 25565, 2097151, -1} {
		var b bytes.Buffer
		writeVarInt(&b, v)
		got, err := readVarInt(&b)
		if err != nil || got != int(v) {
			t.Errorf("varint %d -> %d (%v)", v, got, err)
		}
	}
}
