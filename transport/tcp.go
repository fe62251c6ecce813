package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"accord"
	"accord/configs"
)

// AddressBook resolves a NodeId to a dialable "host:port", the way
// configs.PeerAddresses pairs with NodeIds in a static cluster.
type AddressBook interface {
	Address(id accord.NodeId) (string, bool)
}

// StaticAddressBook is a fixed NodeId->address map, good enough for a
// cluster whose membership is set once at startup (spec §2's TopologyManager
// is likewise static).
type StaticAddressBook map[accord.NodeId]string

func (b StaticAddressBook) Address(id accord.NodeId) (string, bool) {
	addr, ok := b[id]
	return addr, ok
}

// TCP is the wire transport: it accepts inbound connections and feeds
// decoded messages onto a local inbound queue, and it drains an outbound
// queue, dialing peers lazily and caching the connection — the same shape as
// the teacher's Commu in network/coordinator/conn.go (sem-bounded accept
// loop, newline-framed messages, a sync.Map of dialed connections, a
// per-write deadline).
type TCP[K comparable] struct {
	book AddressBook

	listener net.Listener
	sem      chan struct{}
	conns    sync.Map // address string -> net.Conn

	inbound  *accord.UnboundedChan[accord.Message[K]]
	outbound *accord.UnboundedChan[accord.Message[K]]

	done chan struct{}
}

// Listen binds address and returns a TCP transport ready to Run.
func Listen[K comparable](address string, book AddressBook, inbound, outbound *accord.UnboundedChan[accord.Message[K]]) (*TCP[K], error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCP[K]{
		book:     book,
		listener: ln,
		sem:      make(chan struct{}, configs.MaxConnectionHandler),
		inbound:  inbound,
		outbound: outbound,
		done:     make(chan struct{}),
	}, nil
}

// Run accepts inbound connections until Close is called and, concurrently,
// drains the outbound queue to peers until it is closed or ctx is cancelled
// (ctx is checked after each delivery; the accept loop does not watch it).
// It blocks until both stop.
func (t *TCP[K]) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.acceptLoop() })
	g.Go(func() error { return t.drainOutbound(ctx) })
	return g.Wait()
}

func (t *TCP[K]) acceptLoop() error {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return err
			}
		}
		t.sem <- struct{}{}
		go func() {
			defer func() { <-t.sem }()
			t.handleConn(conn)
		}()
	}
}

func (t *TCP[K]) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return
		}
		if err != nil {
			configs.Warnf("transport/tcp: read failed: %v", err)
			return
		}
		msg, err := Decode[K](line)
		if err != nil {
			configs.Warnf("transport/tcp: %v", err)
			continue
		}
		t.inbound.Send(msg)
	}
}

// drainOutbound pulls from outbound until ctx is cancelled, dialing or
// reusing a connection per destination NodeId.
func (t *TCP[K]) drainOutbound(ctx context.Context) error {
	for {
		msg, ok := t.outbound.Recv()
		if !ok {
			return nil
		}
		if err := t.deliver(msg); err != nil {
			configs.Warnf("transport/tcp: deliver to %s failed: %v", msg.To.To, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (t *TCP[K]) deliver(msg accord.Message[K]) error {
	addr, ok := t.book.Address(msg.To.To)
	if !ok {
		return fmt.Errorf("transport/tcp: no address for node %s", msg.To.To)
	}
	conn, err := t.dial(addr)
	if err != nil {
		return err
	}
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if err := conn.SetWriteDeadline(time.Now().Add(configs.WriteDeadline)); err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		t.conns.Delete(addr)
		return err
	}
	return nil
}

func (t *TCP[K]) dial(addr string) (net.Conn, error) {
	if cur, ok := t.conns.Load(addr); ok {
		return cur.(net.Conn), nil
	}
	conn, err := net.DialTimeout("tcp", addr, configs.DialTimeout)
	if err != nil {
		return nil, err
	}
	actual, _ := t.conns.LoadOrStore(addr, conn)
	return actual.(net.Conn), nil
}

// Close stops the accept loop and closes every cached connection.
func (t *TCP[K]) Close() error {
	close(t.done)
	t.conns.Range(func(_, v any) bool {
		v.(net.Conn).Close()
		return true
	})
	return t.listener.Close()
}
