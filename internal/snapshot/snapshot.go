// Package snapshot implements versioned, sequenced, checksummed state
// persistence for the runtime: a main snapshot file carrying balances,
// pending orders, price, and venue counter, plus one lighter
// per-strategy file for each loaded strategy. It generalizes the
// teacher's internal/store/store.go (atomic write-tmp-then-rename,
// mutex-serialized) from single-file per-market position storage to
// spec.md section 4.13's full state snapshot schema.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/account"
	"github.com/veloz/veloz/internal/strategy"
)

const schemaVersion = 1

// Meta carries bookkeeping for one snapshot: schema version, creation
// time, a strictly-increasing sequence number, and a rolling checksum
// over the rest of the payload.
type Meta struct {
	Version     int    `json:"version"`
	TimestampNS int64  `json:"timestamp_ns"`
	SequenceNum int64  `json:"sequence_num"`
	Checksum    string `json:"checksum"`
}

// BalanceRecord is one asset's free/locked split, as persisted.
type BalanceRecord struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// PendingOrderRecord mirrors account.PendingOrder, as persisted.
type PendingOrderRecord struct {
	ClientOrderID string          `json:"client_order_id"`
	StrategyID    string          `json:"strategy_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
}

// StrategyRecord is the lightweight identity/lifecycle record
// embedded in the main snapshot for each loaded strategy; the fuller
// per-strategy state lives in its own strategy_<id>.json file.
type StrategyRecord struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	State  string `json:"state"`
}

// State is the full state snapshot persisted to
// snapshot_<seq>.snapshot.json.
type State struct {
	Meta          Meta                 `json:"meta"`
	Price         decimal.Decimal      `json:"price"`
	VenueCounter  int64                `json:"venue_counter"`
	Balances      []BalanceRecord      `json:"balances"`
	PendingOrders []PendingOrderRecord `json:"pending_orders"`
	Strategies    []StrategyRecord     `json:"strategies"`
}

// StrategyState is the per-strategy file payload: identity, lifecycle,
// and the host-maintained metrics block.
type StrategyState struct {
	ID      string                    `json:"id"`
	Symbol  string                    `json:"symbol"`
	State   string                    `json:"state"`
	Metrics strategy.StrategyMetrics  `json:"metrics"`
}

var snapshotFileRe = regexp.MustCompile(`^snapshot_(\d{10})\.snapshot\.json$`)

// Manager periodically (or on demand) serializes the runtime's account
// ledger and strategy host into the snapshot file format, retaining the
// most recent MaxSnapshots files and scanning existing files on
// startup to resume the sequence counter, exactly like the teacher's
// store scans pos_*.json but generalized to a monotonic sequence rather
// than per-market keys.
type Manager struct {
	mu           sync.Mutex
	dir          string
	maxSnapshots int
	sequence     int64
}

// Open creates (if needed) dir and scans it for the highest existing
// snapshot sequence number so a restarted process continues counting
// forward instead of colliding with prior files.
func Open(dir string, maxSnapshots int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if maxSnapshots <= 0 {
		maxSnapshots = 20
	}
	m := &Manager{dir: dir, maxSnapshots: maxSnapshots}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, e := range entries {
		if match := snapshotFileRe.FindStringSubmatch(e.Name()); match != nil {
			seq, err := strconv.ParseInt(match[1], 10, 64)
			if err == nil && seq > m.sequence {
				m.sequence = seq
			}
		}
	}
	return m, nil
}

// Save builds a State from the given account and strategy host, writes
// it atomically (tmp file then rename) with a strictly-incremented
// sequence number, writes one strategy_<id>.json per loaded strategy,
// and prunes old snapshot files beyond MaxSnapshots.
func (m *Manager) Save(acct *account.Account, host *strategy.Host, price decimal.Decimal) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	state := m.buildState(acct, host, price, m.sequence)

	path := m.pathFor(m.sequence)
	if err := writeAtomicJSON(path, state); err != nil {
		return State{}, fmt.Errorf("write snapshot: %w", err)
	}

	for _, id := range host.Strategies() {
		st, ok := host.GetState(id)
		if !ok {
			continue
		}
		rec := StrategyState{ID: st.ID, Symbol: st.Symbol, State: st.State.String(), Metrics: st.Metrics}
		if err := writeAtomicJSON(m.strategyPath(id), rec); err != nil {
			return State{}, fmt.Errorf("write strategy state %s: %w", id, err)
		}
	}

	if err := m.cleanupLocked(); err != nil {
		return State{}, fmt.Errorf("cleanup snapshots: %w", err)
	}
	return state, nil
}

func (m *Manager) buildState(acct *account.Account, host *strategy.Host, price decimal.Decimal, seq int64) State {
	balances := acct.Balances()
	balanceRecords := make([]BalanceRecord, 0, len(balances))
	for _, b := range balances {
		balanceRecords = append(balanceRecords, BalanceRecord{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	sort.Slice(balanceRecords, func(i, j int) bool { return balanceRecords[i].Asset < balanceRecords[j].Asset })

	pending := acct.PendingOrders()
	pendingRecords := make([]PendingOrderRecord, 0, len(pending))
	for _, p := range pending {
		pendingRecords = append(pendingRecords, PendingOrderRecord{
			ClientOrderID: p.ClientOrderID,
			StrategyID:    p.StrategyID,
			Symbol:        p.Symbol,
			Side:          p.Side,
			Qty:           p.Qty,
			Price:         p.Price,
		})
	}
	sort.Slice(pendingRecords, func(i, j int) bool { return pendingRecords[i].ClientOrderID < pendingRecords[j].ClientOrderID })

	ids := host.Strategies()
	sort.Strings(ids)
	strategies := make([]StrategyRecord, 0, len(ids))
	for _, id := range ids {
		st, ok := host.GetState(id)
		if !ok {
			continue
		}
		strategies = append(strategies, StrategyRecord{ID: st.ID, Symbol: st.Symbol, State: st.State.String()})
	}

	state := State{
		Meta: Meta{
			Version:     schemaVersion,
			TimestampNS: time.Now().UnixNano(),
			SequenceNum: seq,
		},
		Price:         price,
		VenueCounter:  acct.VenueCounter(),
		Balances:      balanceRecords,
		PendingOrders: pendingRecords,
		Strategies:    strategies,
	}
	state.Meta.Checksum = checksumOf(state)
	return state
}

// Load reads the highest-sequence snapshot file from dir and verifies
// its checksum.
func Load(dir string) (State, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return State{}, fmt.Errorf("read snapshot dir: %w", err)
	}

	var best string
	var bestSeq int64 = -1
	for _, e := range entries {
		match := snapshotFileRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		if seq > bestSeq {
			bestSeq = seq
			best = e.Name()
		}
	}
	if best == "" {
		return State{}, fmt.Errorf("no snapshot files found in %s", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, best))
	if err != nil {
		return State{}, fmt.Errorf("read snapshot: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if !VerifyChecksum(state) {
		return state, fmt.Errorf("snapshot %s: checksum mismatch", best)
	}
	return state, nil
}

// VerifyChecksum recomputes the rolling checksum over state's payload
// (excluding the checksum field itself) and compares it to the stored
// value.
func VerifyChecksum(state State) bool {
	want := state.Meta.Checksum
	state.Meta.Checksum = ""
	return checksumOf(state) == want
}

// checksumOf computes a SHA-256 digest over the canonical JSON encoding
// of state with its checksum field cleared, serving as the "simple
// rolling checksum" spec.md asks for without committing to a specific
// legacy algorithm.
func checksumOf(state State) string {
	state.Meta.Checksum = ""
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (m *Manager) pathFor(seq int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("snapshot_%010d.snapshot.json", seq))
}

func (m *Manager) strategyPath(id string) string {
	return filepath.Join(m.dir, fmt.Sprintf("strategy_%s.json", id))
}

// cleanupLocked removes snapshot files beyond MaxSnapshots, keeping the
// most recent ones by sequence number. Caller must hold m.mu.
func (m *Manager) cleanupLocked() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	type fileSeq struct {
		name string
		seq  int64
	}
	var files []fileSeq
	for _, e := range entries {
		match := snapshotFileRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, fileSeq{name: e.Name(), seq: seq})
	}
	if len(files) <= m.maxSnapshots {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq > files[j].seq })
	for _, f := range files[m.maxSnapshots:] {
		if err := os.Remove(filepath.Join(m.dir, f.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writeAtomicJSON marshals v and writes it to path via a temp file
// followed by a rename, matching the teacher's crash-safe write idiom.
func writeAtomicJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
