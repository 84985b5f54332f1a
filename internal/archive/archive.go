// Package archive is the queryable secondary index over committed chain
// state: a SQL table per block/header/kernel, filled through
// Index.CommitBlock, for historical lookups the position-indexed MMR
// backends in internal/pmmr don't serve directly (by height, by kernel
// excess, by time range). The teacher stubs this as src/storage/mysql.go,
// a Storage implementation with every method returning a zero value; this
// package completes it and narrows its scope from "is the Storage" to "is
// an index over storage the chain pipeline already owns".
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/grincore/node/consensus"
)

// Index is a MySQL-backed secondary index over committed blocks, headers
// and kernels. It never participates in consensus: it records whatever
// block CommitBlock is given, without validating it.
type Index struct {
	db *sql.DB
}

// Open connects to dsn (a standard go-sql-driver/mysql DSN) and ensures
// the index tables exist.
func Open(dsn string) (*Index, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

func (idx *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS headers (
			hash BINARY(32) NOT NULL PRIMARY KEY,
			height BIGINT UNSIGNED NOT NULL,
			previous BINARY(32) NOT NULL,
			timestamp DATETIME NOT NULL,
			total_difficulty BIGINT UNSIGNED NOT NULL,
			INDEX idx_headers_height (height)
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			hash BINARY(32) NOT NULL PRIMARY KEY,
			height BIGINT UNSIGNED NOT NULL,
			num_inputs INT UNSIGNED NOT NULL,
			num_outputs INT UNSIGNED NOT NULL,
			num_kernels INT UNSIGNED NOT NULL,
			INDEX idx_blocks_height (height)
		)`,
		`CREATE TABLE IF NOT EXISTS kernels (
			excess BINARY(33) NOT NULL PRIMARY KEY,
			block_hash BINARY(32) NOT NULL,
			fee BIGINT UNSIGNED NOT NULL,
			lock_height BIGINT UNSIGNED NOT NULL,
			features TINYINT UNSIGNED NOT NULL,
			INDEX idx_kernels_block (block_hash)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.Exec(stmt); err != nil {
			return fmt.Errorf("archive: migrate: %w", err)
		}
	}
	return nil
}

// CommitBlock records b into the index. internal/chain has no commit hook,
// so nothing in this module calls it; it does not check that b was accepted
// by internal/chain or lies on the body chain.
func (idx *Index) CommitBlock(b *consensus.Block) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	hash := b.Hash()
	if _, err := tx.Exec(
		`INSERT INTO headers (hash, height, previous, timestamp, total_difficulty)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE height = VALUES(height)`,
		[]byte(hash), b.Header.Height, []byte(b.Header.Previous), b.Header.Timestamp,
		uint64(b.Header.POW.TotalDifficulty),
	); err != nil {
		return fmt.Errorf("archive: insert header: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO blocks (hash, height, num_inputs, num_outputs, num_kernels)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE height = VALUES(height)`,
		[]byte(hash), b.Header.Height, len(b.Inputs), len(b.Outputs), len(b.Kernels),
	); err != nil {
		return fmt.Errorf("archive: insert block: %w", err)
	}

	for i := range b.Kernels {
		k := &b.Kernels[i]
		if _, err := tx.Exec(
			`INSERT INTO kernels (excess, block_hash, fee, lock_height, features)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE block_hash = VALUES(block_hash)`,
			k.Excess[:], []byte(hash), k.Fee, k.LockHeight, uint8(k.Features),
		); err != nil {
			return fmt.Errorf("archive: insert kernel: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}

	logrus.Debugf("archive: indexed block %x at height %d", hash, b.Header.Height)
	return nil
}

// HeaderSummary is the denormalized row archive queries return for a
// header lookup.
type HeaderSummary struct {
	Hash            consensus.Hash
	Height          uint64
	Previous        consensus.Hash
	Timestamp       time.Time
	TotalDifficulty consensus.Difficulty
}

// HeaderByHeight returns the indexed header at height, or ok=false if
// none has been committed yet.
func (idx *Index) HeaderByHeight(height uint64) (*HeaderSummary, bool, error) {
	row := idx.db.QueryRow(
		`SELECT hash, height, previous, timestamp, total_difficulty
		 FROM headers WHERE height = ? LIMIT 1`, height,
	)
	return scanHeaderSummary(row)
}

// HeaderByHash returns the indexed header for hash, or ok=false if absent.
func (idx *Index) HeaderByHash(hash consensus.Hash) (*HeaderSummary, bool, error) {
	row := idx.db.QueryRow(
		`SELECT hash, height, previous, timestamp, total_difficulty
		 FROM headers WHERE hash = ? LIMIT 1`, []byte(hash),
	)
	return scanHeaderSummary(row)
}

func scanHeaderSummary(row *sql.Row) (*HeaderSummary, bool, error) {
	var h HeaderSummary
	var hash, previous []byte
	var td uint64

	err := row.Scan(&hash, &h.Height, &previous, &h.Timestamp, &td)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("archive: scan header: %w", err)
	}

	h.Hash = consensus.Hash(hash)
	h.Previous = consensus.Hash(previous)
	h.TotalDifficulty = consensus.Difficulty(td)
	return &h, true, nil
}

// KernelLocation identifies which block a kernel with a given excess
// commitment was mined in.
type KernelLocation struct {
	BlockHash consensus.Hash
	Fee       uint64
}

// KernelByExcess looks up which block contains the kernel with the given
// excess commitment, supporting spec §4.11's GetTransaction-by-kernel
// lookups beyond what a single node's own mempool holds.
func (idx *Index) KernelByExcess(excess []byte) (*KernelLocation, bool, error) {
	var loc KernelLocation
	var blockHash []byte

	err := idx.db.QueryRow(
		`SELECT block_hash, fee FROM kernels WHERE excess = ? LIMIT 1`, excess,
	).Scan(&blockHash, &loc.Fee)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("archive: scan kernel: %w", err)
	}

	loc.BlockHash = consensus.Hash(blockHash)
	return &loc, true, nil
}
