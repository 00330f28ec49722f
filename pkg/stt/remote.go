package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/dexxdean/lvc/pkg/audioconv"
)

// Remote transcribes by sending PCM to a transcription service over a
// websocket. One request is in flight at a time; the connection is guarded by
// a mutex because the underlying websocket does not allow concurrent writers.
type Remote struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	url     string
	timeout time.Duration
}

type remoteRequest struct {
	Kind       string `json:"kind"`
	SampleRate int    `json:"sample_rate"`
	Audio      []byte `json:"audio"` // little-endian int16 PCM
	Path       string `json:"path,omitempty"`
}

type remoteReply struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
	Err  string `json:"error,omitempty"`
}

// NewRemote dials the transcription service at wsURL. When socksAddr is
// non-empty the connection is established through that SOCKS5 proxy. timeout
// bounds each transcription round-trip; zero means 30 s.
func NewRemote(wsURL, socksAddr string, timeout time.Duration) (*Remote, error) {
	dialer := *websocket.DefaultDialer
	if socksAddr != "" {
		socks, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", socksAddr, err)
		}
		dialer.NetDial = func(network, addr string) (net.Conn, error) {
			return socks.Dial(network, addr)
		}
	}

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	slog.Info("connected to remote transcriber", "url", wsURL)
	return &Remote{conn: conn, url: wsURL, timeout: timeout}, nil
}

// Transcribe sends the PCM window to the service and waits for its reply.
// Empty input returns empty text without a round-trip.
func (r *Remote) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	raw := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return r.roundTrip(ctx, remoteRequest{
		Kind:       "transcribe",
		SampleRate: sampleRate,
		Audio:      raw,
	})
}

// TranscribeFile decodes path locally and ships the samples; the service
// never needs filesystem access.
func (r *Remote) TranscribeFile(ctx context.Context, path string) (string, error) {
	samples, err := audioconv.DecodeFile(path)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return r.Transcribe(ctx, audioconv.Float32ToInt16(samples), audioconv.TargetRate)
}

// Close shuts the websocket down.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *Remote) roundTrip(ctx context.Context, req remoteRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return "", fmt.Errorf("remote transcriber closed")
	}

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if err := r.conn.SetWriteDeadline(deadline); err != nil {
		return "", err
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	_, msg, err := r.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("receive: %w", err)
	}

	var reply remoteReply
	if err := json.Unmarshal(msg, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if reply.Err != "" {
		return "", fmt.Errorf("remote transcriber: %s", reply.Err)
	}
	return reply.Text, nil
}
