// Package ipc exposes a unix socket control interface for the running
// daemon. One JSON request and one JSON response per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// DefaultSocketPath is used when no socket is configured.
const DefaultSocketPath = "/tmp/lvc.sock"

// connTimeout bounds one request/response exchange.
const connTimeout = 5 * time.Second

// Control commands understood by the daemon.
const (
	CmdTrigger      = "trigger"      // force command capture without a wake phrase
	CmdStop         = "stop"         // end the capture loop
	CmdWakeAdd      = "wake-add"     // add a wake phrase (arg)
	CmdWakeRemove   = "wake-remove"  // remove a wake phrase (arg)
	CmdThreshold    = "threshold"    // set the wake threshold (arg)
	CmdHistory      = "history"      // dump the command history
	CmdClearHistory = "history-clear"
	CmdStatus       = "status"
)

// ControlMessage is one request from lvc-ctl to the daemon.
type ControlMessage struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

// Response is the daemon's answer.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OKResponse returns a success response, optionally carrying data.
func OKResponse(data any) Response {
	resp := Response{OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrResponse(fmt.Errorf("marshal response data: %w", err))
		}
		resp.Data = raw
	}
	return resp
}

// ErrResponse returns a failure response.
func ErrResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// Handler processes one control message.
type Handler func(ControlMessage) Response

// Server accepts control connections on a unix socket.
type Server struct {
	socket string
}

// NewServer returns a server bound to socket, or DefaultSocketPath when
// empty.
func NewServer(socket string) *Server {
	if socket == "" {
		socket = DefaultSocketPath
	}
	return &Server{socket: socket}
}

// Serve listens until ctx is cancelled. A stale socket file from a previous
// run is removed before binding.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	os.Remove(s.socket)

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("ipc: listen %q: %w", s.socket, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(s.socket)
	}()

	slog.Info("control socket ready", "socket", s.socket)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("ipc accept failed", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		slog.Warn("ipc decode failed", "err", err)
		return
	}

	resp := handler(msg)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Warn("ipc encode failed", "err", err)
	}
}

// Send delivers one control message to the daemon at socket and returns its
// response.
func Send(socket string, msg ControlMessage) (Response, error) {
	if socket == "" {
		socket = DefaultSocketPath
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: dial %q: %w", socket, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Response{}, fmt.Errorf("ipc: send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}
