package main

import (
	"flag"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/grincore/node/internal/archive"
	"github.com/grincore/node/internal/chain"
	"github.com/grincore/node/internal/pmmr"
	nodesync "github.com/grincore/node/internal/sync"
	"github.com/grincore/node/internal/store"
	"github.com/grincore/node/internal/txpool"
	"github.com/grincore/node/p2p"
)

func init() {
	// Output to stdout instead of the default stderr.
	logrus.SetOutput(os.Stdout)

	// Log the debug severity or above.
	logrus.SetLevel(logrus.DebugLevel)
}

func main() {
	datadir := flag.String("datadir", "./.grincore", "directory for chain and peer data")
	listenAddr := flag.String("listen", "0.0.0.0:3414", "P2P listen address")
	seedList := flag.String("peers", "", "comma-separated list of seed peer addresses")
	archiveDSN := flag.String("archive-dsn", "", "go-sql-driver/mysql DSN for the archival index (optional)")
	flag.Parse()

	logrus.Info("starting")

	if err := os.MkdirAll(*datadir, 0o755); err != nil {
		logrus.Fatalf("create datadir: %v", err)
	}

	c := mustOpenChain(*datadir)
	// TODO: wire chainStore into a commit hook on the chain pipeline so
	// header/body heads are kept current after genesis instead of only
	// on startup.
	_ = mustOpenChainStore(*datadir, c)
	idx := mustOpenArchive(*archiveDSN)
	if idx != nil {
		defer idx.Close()
	}

	s := nodesync.NewSyncer(c)
	tp := txpool.New(c.TxHashSet(), c.BodyHead().Height)

	peerPool := p2p.NewPool(c.HeaderHead().Hash, *listenAddr, nil)
	dispatcher := p2p.NewDispatcher(c, s, tp, peerPool)
	peerPool.SetHandler(dispatcher)

	mustRunNetworking(*datadir, *listenAddr, *seedList, peerPool)
}

// mustOpenChain wires the four MMR-backed stores internal/pmmr provides
// into a single internal/chain.Chain rooted at the network's genesis
// block, the same shape the teacher's own chain.New(genesis, storage)
// call has, generalized from one Storage interface to four typed MMR
// backends.
func mustOpenChain(datadir string) *chain.Chain {
	headerBackend, err := pmmr.Open(filepath.Join(datadir, "header.mmr"))
	if err != nil {
		logrus.Fatalf("open header MMR: %v", err)
	}
	outputBackend, err := pmmr.Open(filepath.Join(datadir, "output.mmr"))
	if err != nil {
		logrus.Fatalf("open output MMR: %v", err)
	}
	rangeproofBackend, err := pmmr.Open(filepath.Join(datadir, "rangeproof.mmr"))
	if err != nil {
		logrus.Fatalf("open rangeproof MMR: %v", err)
	}
	kernelBackend, err := pmmr.Open(filepath.Join(datadir, "kernel.mmr"))
	if err != nil {
		logrus.Fatalf("open kernel MMR: %v", err)
	}

	c, err := chain.New(&genesisBlock, headerBackend, outputBackend, rangeproofBackend, kernelBackend)
	if err != nil {
		logrus.Fatalf("init chain: %v", err)
	}
	return c
}

// mustOpenChainStore opens the bbolt chain metadata store and records the
// freshly-opened chain's current heads, so a restart without any new
// blocks still has an up to date header/body head marker on disk.
func mustOpenChainStore(datadir string, c *chain.Chain) *store.ChainStore {
	s, err := store.OpenChainStore(filepath.Join(datadir, "chain.db"))
	if err != nil {
		logrus.Fatalf("open chain store: %v", err)
	}
	head := c.HeaderHead()
	if err := s.SetHeaderHead(head.Hash, head.Height); err != nil {
		logrus.Warnf("record header head: %v", err)
	}
	body := c.BodyHead()
	if err := s.SetBodyHead(body.Hash, body.Height); err != nil {
		logrus.Warnf("record body head: %v", err)
	}
	return s
}

// mustOpenArchive optionally wires the archival SQL index when a DSN is
// configured; it is otherwise skipped entirely, since the node's primary
// storage (MMR files + bbolt) needs no SQL server to operate.
func mustOpenArchive(dsn string) *archive.Index {
	if dsn == "" {
		return nil
	}
	idx, err := archive.Open(dsn)
	if err != nil {
		logrus.Fatalf("open archive index: %v", err)
	}
	return idx
}

// mustRunNetworking loads the persisted peer book, dials every seed peer,
// and serves inbound connections forever.
func mustRunNetworking(datadir, listenAddr, seedList string, peerPool *p2p.Pool) {
	peerStore, err := store.OpenPeerStore(filepath.Join(datadir, "peers.db"))
	if err != nil {
		logrus.Fatalf("open peer store: %v", err)
	}

	known, err := peerStore.All()
	if err != nil {
		logrus.Warnf("load persisted peers: %v", err)
	}
	for _, rec := range known {
		if !rec.Banned {
			peerPool.AddCandidate(rec.Addr)
		}
	}

	for _, addr := range strings.Split(seedList, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		peerPool.AddCandidate(addr)
		go func(addr string) {
			if err := peerPool.Connect(addr); err != nil {
				logrus.Warnf("connect to seed %s: %v", addr, err)
			}
		}(addr)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logrus.Fatalf("listen on %s: %v", listenAddr, err)
	}
	logrus.Infof("listening on %s", listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logrus.Warnf("accept: %v", err)
			continue
		}
		go peerPool.AcceptConn(conn)
	}
}
