// Package control is a small CBOR request/response protocol used to drive a running
// node from another process on the same machine.
//
// Each request is a RequestHeader followed by an argument value; each response is a
// ResponseHeader followed, when Err is empty, by a reply value.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type handlerFunc func(arg cbor.RawMessage) (any, error)

type Server struct {
	listener net.Listener
	mu       sync.RWMutex
	handlers map[string]handlerFunc
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
		handlers: make(map[string]handlerFunc),
	}
}

// Handle registers fn under method (e.g. "Node.Status").
func Handle[Req, Res any](srv *Server, method string, fn func(*Req, *Res) error) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if _, dup := srv.handlers[method]; dup {
		return errors.New("control: method already defined: " + method)
	}
	srv.handlers[method] = func(arg cbor.RawMessage) (any, error) {
		req := new(Req)
		if err := cbor.Unmarshal(arg, req); err != nil {
			return nil, fmt.Errorf("decoding argument: %w", err)
		}
		res := new(Res)
		if err := fn(req, res); err != nil {
			return nil, err
		}
		return res, nil
	}
	log.Debugf("control.Register: %s", method)
	return nil
}

func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

func (srv *Server) Serve(ctx context.Context) error {
	// Closing the listener unblocks Accept below.
	go func() {
		<-ctx.Done()
		log.Infof("control.Server: context cancelled, shutting down listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("control.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("control.Server: Accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("control.Server: critical accept error on %s: %v. Server stopping.", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("control.Server: accepted connection from %s", conn.RemoteAddr())
		go srv.serveConn(ctx, conn)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the decoder below on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	decoder := cbor.NewDecoder(conn)
	encoder := cbor.NewEncoder(conn)
	for {
		req := &RequestHeader{}
		if err := decoder.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				log.Debugf("control.Server: connection %s closed", conn.RemoteAddr())
			} else {
				log.Errorf("control.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		var arg cbor.RawMessage
		if err := decoder.Decode(&arg); err != nil {
			log.Errorf("control.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}

		reply, callErr := srv.call(req.Method, arg)

		res := &ResponseHeader{Seq: req.Seq}
		if callErr != nil {
			res.Err = callErr.Error()
		}
		if err := encoder.Encode(res); err != nil {
			log.Errorf("control.Server: error encoding response header for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if callErr == nil {
			if err := encoder.Encode(reply); err != nil {
				log.Errorf("control.Server: error encoding reply for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

func (srv *Server) call(method string, arg cbor.RawMessage) (reply any, err error) {
	srv.mu.RLock()
	h, ok := srv.handlers[method]
	srv.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("control: can't find method %q", method)
	}
	return h(arg)
}
