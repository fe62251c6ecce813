// Command accord-node runs one Accord replica: it owns a StateDriver, a TCP
// transport, and (optionally) an HTTP status endpoint, the way the teacher's
// fc-server/main.go wires flags straight into configs and then starts either
// a participant or a coordinator role. Every accord-node plays both roles at
// once, so there is no role flag here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"accord"
	"accord/benchmark"
	"accord/configs"
	"accord/status"
	"accord/store"
	"accord/transport"
)

var (
	nodeID    uint64
	listen    string
	peersFlag string
	statusAdr string
	backend   string
	walDir    string
	confFile  string
	simNodes  int
)

func usage() { flag.PrintDefaults() }

func init() {
	flag.Uint64Var(&nodeID, "id", 1, "this node's NodeId")
	flag.StringVar(&listen, "listen", "127.0.0.1:7001", "address to accept peer connections on")
	flag.StringVar(&peersFlag, "peers", "", "comma-separated id=host:port pairs for every other member")
	flag.StringVar(&statusAdr, "status", "", "address to serve GET /status on, empty disables it")
	flag.StringVar(&backend, "backend", configs.Memory, "executor backend: memory, postgres, or mongo")
	flag.StringVar(&walDir, "wal", "./accord-wal", "directory for the durable log; with the memory backend an empty value selects an in-memory log")
	flag.StringVar(&confFile, "conf", "", "optional properties file (configs.LoadFile); only its quorum, postgres and mongo settings take effect, the other flags are not overridden")
	flag.IntVar(&simNodes, "sim", 0, "run an in-process N-node simulation over transport/local.go instead of a real TCP node; ignores -id/-listen/-peers/-status/-backend")
	flag.Usage = usage
}

func parsePeers(spec string) (map[accord.NodeId]string, []accord.NodeId, error) {
	book := map[accord.NodeId]string{}
	var ids []accord.NodeId
	if spec == "" {
		return book, ids, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, nil, fmt.Errorf("invalid peer spec %q, want id=host:port", pair)
		}
		n, err := strconv.ParseUint(kv[0], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid peer id %q: %w", kv[0], err)
		}
		id := accord.NodeId(n)
		book[id] = kv[1]
		ids = append(ids, id)
	}
	return book, ids, nil
}

func main() {
	flag.Parse()
	if confFile != "" {
		if err := configs.LoadFile(confFile); err != nil {
			fmt.Fprintln(os.Stderr, "accord-node: load conf:", err)
			os.Exit(1)
		}
	}

	if simNodes > 0 {
		runSimulation(simNodes)
		return
	}

	self := accord.NodeId(nodeID)
	book, peers, err := parsePeers(peersFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "accord-node:", err)
		os.Exit(1)
	}
	tm := accord.NewStaticTopology(self, peers)
	if configs.FastQuorumOverride > 0 || configs.SlowQuorumOverride > 0 {
		tm = tm.WithQuorums(configs.FastQuorumOverride, configs.SlowQuorumOverride)
	}

	executor, closeExecutor, err := buildExecutor(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "accord-node: executor:", err)
		os.Exit(1)
	}
	defer closeExecutor()

	log, closeLog, err := buildLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, "accord-node: log:", err)
		os.Exit(1)
	}
	defer closeLog()

	reg := status.NewRegistry()
	log = status.RecordingLog{Log: log, Reg: reg}

	inbound := accord.NewUnboundedChan[accord.Message[string]]()
	outbound := accord.NewUnboundedChan[accord.Message[string]]()
	driver := accord.NewStateDriver[string](tm, log, executor, inbound, outbound)

	tcp, err := transport.Listen[string](listen, transport.StaticAddressBook(book), inbound, outbound)
	if err != nil {
		fmt.Fprintln(os.Stderr, "accord-node: listen:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := tcp.Run(ctx); err != nil {
			configs.Warnf("accord-node: transport stopped: %v", err)
		}
	}()

	var statusSrv *status.Server
	if statusAdr != "" {
		statusSrv = status.NewServer(statusAdr, reg)
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil {
				configs.Warnf("accord-node: status server stopped: %v", err)
			}
		}()
	}

	configs.Debugf("accord-node: %s listening on %s, %d peers, backend=%s", self, listen, len(peers), backend)

	if err := driver.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "accord-node: driver stopped:", err)
	}
	_ = tcp.Close()
	if statusSrv != nil {
		_ = statusSrv.Shutdown(context.Background())
	}
}

// runSimulation wires n StateDrivers together over a transport.LocalNetwork
// in a single process, the single-binary multi-node simulation the teacher's
// own benchmark harness ran as in-process goroutines rather than separate
// binaries (benchmark/tpc.go's TPCClient pool). Every node gets its own
// MemoryStore and MemLog: the point of -sim is to exercise the protocol's
// multi-node wiring and a synthetic workload without standing up real
// sockets or a real storage backend, so it ignores -id/-listen/-peers/
// -status/-backend entirely.
func runSimulation(n int) {
	ids := make([]accord.NodeId, n)
	for i := range ids {
		ids[i] = accord.NodeId(i + 1)
	}

	net := transport.NewLocalNetwork[string]()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	drivers := make([]*accord.StateDriver[string], n)
	stores := make([]*store.MemoryStore, n)
	for i, id := range ids {
		var peers []accord.NodeId
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		tm := accord.NewStaticTopology(id, peers)
		if configs.FastQuorumOverride > 0 || configs.SlowQuorumOverride > 0 {
			tm = tm.WithQuorums(configs.FastQuorumOverride, configs.SlowQuorumOverride)
		}
		mem := store.NewMemoryStore()
		inbound := accord.NewUnboundedChan[accord.Message[string]]()
		outbound := accord.NewUnboundedChan[accord.Message[string]]()
		net.Register(id, inbound)

		driver := accord.NewStateDriver[string](tm, accord.NewMemLog(), mem, inbound, outbound)
		drivers[i] = driver
		stores[i] = mem

		go driver.Run(ctx)
		go net.Pump(ctx, outbound)
	}

	w := &benchmark.Workload{
		NumKeys:        16,
		Skew:           0.99,
		ReadPercentage: 0.5,
		Clients:        4,
		Driver:         drivers[0],
	}
	stop := make(chan struct{})
	w.Run(stop)

	configs.Debugf("accord-node: simulating %d in-process nodes, workload driven against %s", n, ids[0])
	<-ctx.Done()
	close(stop)

	for i, s := range stores {
		configs.Debugf("accord-node: node %s final snapshot: %v", ids[i], s.Snapshot())
	}
}

func buildExecutor(ctx context.Context) (accord.Executor[string], func(), error) {
	switch backend {
	case configs.Postgres:
		s, err := store.NewPostgresStore(ctx, configs.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case configs.Mongo:
		s, err := store.NewMongoStore(ctx, configs.MongoURI, configs.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func buildLog() (accord.Log, func(), error) {
	if backend == configs.Memory && walDir == "" {
		return accord.NewMemLog(), func() {}, nil
	}
	l, err := store.NewWALLog(walDir)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}
