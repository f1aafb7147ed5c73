package minecraft

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	defaultJavaPort    = 25565
	defaultBedrockPort = 19132
	defaultPingTimeout = 5 * time.Second
	maxStatusBytes     = 1 << 20
)

// Players is the player count reported by a server.
type Players struct {
	Online int
	Max    int
}

// Prober queries one server. java selects the Java edition Server List Ping
// over TCP; otherwise the Bedrock unconnected ping over UDP is used.
type Prober func(ctx context.Context, addr string, java bool) (Players, error)

// Probe is the network Prober.
func Probe(ctx context.Context, addr string, java bool) (Players, error) {
	if java {
		return pingJava(ctx, addr)
	}
	return pingBedrock(ctx, addr)
}

// resolveJava honors an explicit port, then the _minecraft._tcp SRV record,
// then the default port.
func resolveJava(ctx context.Context, addr string) (host string, port int) {
	if h, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return h, n
		}
	}
	host = addr
	if net.ParseIP(host) == nil {
		if _, srvs, err := net.DefaultResolver.LookupSRV(ctx, "minecraft", "tcp", host); err == nil && len(srvs) > 0 {
			return strings.TrimSuffix(srvs[0].Target, "."), int(srvs[0].Port)
		}
	}
	return host, defaultJavaPort
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(defaultPingTimeout)
}

func pingJava(ctx context.Context, addr string) (Players, error) {
	host, port := resolveJava(ctx, addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Players{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline(ctx))

	// Handshake (next state 1 = status) followed by an empty status request.
	var hs bytes.Buffer
	writeVarInt(&hs, 0x00)
	writeVarInt(&hs, -1)
	writeString(&hs, host)
	_ = binary.Write(&hs, binary.BigEndian, uint16(port))
	writeVarInt(&hs, 1)

	var out bytes.Buffer
	writePacket(&out, hs.Bytes())
	writePacket(&out, []byte{0x00})
	if _, err := conn.Write(out.Bytes()); err != nil {
		return Players{}, fmt.Errorf("write handshake: %w", err)
	}

	r := bufio.NewReader(conn)
	n, err := readVarInt(r)
	if err != nil {
		return Players{}, fmt.Errorf("read length: %w", err)
	}
	if n <= 0 || n > maxStatusBytes {
		return Players{}, fmt.Errorf("bad status length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Players{}, fmt.Errorf("read status: %w", err)
	}
	br := bytes.NewReader(body)
	id, err := readVarInt(br)
	if err != nil || id != 0x00 {
		return Players{}, fmt.Errorf("unexpected packet id %d", id)
	}
	sl, err := readVarInt(br)
	if err != nil || sl < 0 || sl > br.Len() {
		return Players{}, errors.New("bad status string")
	}
	raw := make([]byte, sl)
	_, _ = io.ReadFull(br, raw)

	var status struct {
		Players *struct {
			Online int `json:"online"`
			Max    int `json:"max"`
		} `json:"players"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return Players{}, fmt.Errorf("decode status: %w", err)
	}
	if status.Players == nil {
		return Players{}, errors.New("status has no players section")
	}
	return Players{Online: status.Players.Online, Max: status.Players.Max}, nil
}

var raknetMagic = []byte{0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78}

func pingBedrock(ctx context.Context, addr string) (Players, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(defaultBedrockPort))
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return Players{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline(ctx))

	var req bytes.Buffer
	req.WriteByte(0x01)
	_ = binary.Write(&req, binary.BigEndian, time.Now().UnixMilli())
	req.Write(raknetMagic)
	_ = binary.Write(&req, binary.BigEndian, uint64(0x2))
	if _, err := conn.Write(req.Bytes()); err != nil {
		return Players{}, err
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return Players{}, err
	}
	return parsePong(buf[:n])
}

// parsePong decodes an unconnected pong: id 0x1c, time, server guid, magic,
// then a length prefixed "MCPE;motd;protocol;version;online;max;..." string.
func parsePong(b []byte) (Players, error) {
	const header = 1 + 8 + 8 + 16
	if len(b) < header+2 || b[0] != 0x1c {
		return Players{}, errors.New("not an unconnected pong")
	}
	l := int(binary.BigEndian.Uint16(b[header : header+2]))
	if len(b) < header+2+l {
		return Players{}, errors.New("short pong")
	}
	fields := strings.Split(string(b[header+2:header+2+l]), ";")
	if len(fields) < 6 {
		return Players{}, fmt.Errorf("pong has %d fields", len(fields))
	}
	online, err1 := strconv.Atoi(fields[4])
	maxP, err2 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil {
		return Players{}, errors.New("invalid player counts in pong")
	}
	return Players{Online: online, Max: maxP}, nil
}

func writeVarInt(w *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		if u&^0x7f == 0 {
			w.WriteByte(byte(u))
			return
		}
		w.WriteByte(byte(u&0x7f | 0x80))
		u >>= 7
	}
}

func writeString(w *bytes.Buffer, s string) {
	writeVarInt(w, int32(len(s)))
	w.WriteString(s)
}

func writePacket(w *bytes.Buffer, body []byte) {
	writeVarInt(w, int32(len(body)))
	w.Write(body)
}

func readVarInt(r io.ByteReader) (int, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int(int32(v)), nil
		}
	}
	return 0, errors.New("varint too long")
}
