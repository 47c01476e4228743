/*
Package redis provides a Redis-backed Entity Store.

PURPOSE:
  Implements crm.EntityStore and crm.TxStore on go-redis. Useful when the
  engine runs as several stateless API replicas sharing one Redis.

KEY LAYOUT (prefix defaults to "crm"):
  {p}:{type}:data                 hash   id → JSON payload
  {p}:{type}:refs                 hash   id → JSON reference map
  {p}:{type}:order                zset   id → insertion sequence
  {p}:{type}:ref:{field}:{value}  set    ids carrying that reference
  {p}:seq                         string insertion counter

TRANSACTIONS:
  WithTx buffers every write in memory. Reads inside the transaction see the
  buffered writes layered over Redis. On success the buffer is flushed in a
  single MULTI/EXEC, so other readers observe all of it or none of it. A
  failed fn simply drops the buffer.

  Writers in one process are serialized by the store's mutex. Writers in
  different processes are not fenced against each other.

SEE ALSO:
  - crm/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQL implementation
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis/v8"
	"github.com/warp/sales-engine/crm"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "crm"

// Store implements crm.TxStore using Redis.
type Store struct {
	rdb    *goredis.Client
	prefix string
	mu     sync.Mutex
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := goredis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(rdb, prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) dataKey(t crm.EntityType) string  { return s.key(string(t), "data") }
func (s *Store) refsKey(t crm.EntityType) string  { return s.key(string(t), "refs") }
func (s *Store) orderKey(t crm.EntityType) string { return s.key(string(t), "order") }
func (s *Store) seqKey() string                   { return s.key("seq") }

func (s *Store) refKey(t crm.EntityType, field, value string) string {
	return s.key(string(t), "ref", field, value)
}

// =============================================================================
// READS
// =============================================================================

type scored struct {
	rec   crm.Record
	score float64
}

// Get returns one record or crm.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, t crm.EntityType, id string) (crm.Record, error) {
	sr, err := s.getScored(ctx, t, id)
	return sr.rec, err
}

func (s *Store) getScored(ctx context.Context, t crm.EntityType, id string) (scored, error) {
	var data, refs *goredis.StringCmd
	var score *goredis.FloatCmd
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		data = p.HGet(ctx, s.dataKey(t), id)
		refs = p.HGet(ctx, s.refsKey(t), id)
		score = p.ZScore(ctx, s.orderKey(t), id)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return scored{}, fmt.Errorf("failed to get %s %s: %w", t, id, err)
	}
	if errors.Is(data.Err(), goredis.Nil) {
		return scored{}, crm.ErrRecordNotFound
	}

	rec, err := decode(t, id, data.Val(), refs.Val())
	if err != nil {
		return scored{}, err
	}
	return scored{rec: rec, score: score.Val()}, nil
}

// List returns matching records in insertion order.
func (s *Store) List(ctx context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	found, err := s.listScored(ctx, t, f)
	if err != nil {
		return nil, err
	}
	out := make([]crm.Record, len(found))
	for i, sr := range found {
		out[i] = sr.rec
	}
	return out, nil
}

func (s *Store) listScored(ctx context.Context, t crm.EntityType, f crm.Filter) ([]scored, error) {
	var members []goredis.Z
	if len(f) == 0 {
		zs, err := s.rdb.ZRangeWithScores(ctx, s.orderKey(t), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", t, err)
		}
		members = zs
	} else {
		keys := make([]string, 0, len(f))
		for field, value := range f {
			keys = append(keys, s.refKey(t, field, value))
		}
		ids, err := s.rdb.SInter(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", t, err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		scores := make([]*goredis.FloatCmd, len(ids))
		_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, id := range ids {
				scores[i] = p.ZScore(ctx, s.orderKey(t), id)
			}
			return nil
		})
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("failed to order %s: %w", t, err)
		}
		for i, id := range ids {
			if scores[i].Err() != nil {
				continue
			}
			members = append(members, goredis.Z{Score: scores[i].Val(), Member: id})
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Score < members[j].Score })
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = fmt.Sprint(m.Member)
	}
	var data, refs *goredis.SliceCmd
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		data = p.HMGet(ctx, s.dataKey(t), ids...)
		refs = p.HMGet(ctx, s.refsKey(t), ids...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", t, err)
	}

	out := make([]scored, 0, len(ids))
	for i, id := range ids {
		raw, ok := data.Val()[i].(string)
		if !ok {
			continue
		}
		refsJSON, _ := refs.Val()[i].(string)
		rec, err := decode(t, id, raw, refsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, scored{rec: rec, score: members[i].Score})
	}
	return out, nil
}

func decode(t crm.EntityType, id, data, refsJSON string) (crm.Record, error) {
	rec := crm.Record{Type: t, ID: id, Data: json.RawMessage(data)}
	if refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &rec.Refs); err != nil {
			return crm.Record{}, fmt.Errorf("corrupt refs on %s %s: %w", t, id, err)
		}
	}
	return rec, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Put writes a single record as its own transaction.
func (s *Store) Put(ctx context.Context, rec crm.Record) error {
	return s.WithTx(ctx, func(tx crm.EntityStore) error {
		return tx.Put(ctx, rec)
	})
}

// Remove deletes a single record as its own transaction.
func (s *Store) Remove(ctx context.Context, t crm.EntityType, id string) error {
	return s.WithTx(ctx, func(tx crm.EntityStore) error {
		return tx.Remove(ctx, t, id)
	})
}

// WithTx executes fn against a write buffer and commits it with MULTI/EXEC.
func (s *Store) WithTx(ctx context.Context, fn func(store crm.EntityStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &txView{store: s, pending: make(map[recKey]*pendingWrite)}
	if err := fn(view); err != nil {
		return err
	}
	return view.commit(ctx)
}

// Reset deletes every key under the store's prefix (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type recKey struct {
	t  crm.EntityType
	id string
}

type pendingWrite struct {
	rec     crm.Record
	deleted bool

	existed   bool
	baseRefs  map[string]string
	baseScore float64
	touched   int
}

type txView struct {
	store   *Store
	pending map[recKey]*pendingWrite
	order   []recKey
}

// touch loads the committed state of a record the first time the tx writes it.
func (v *txView) touch(ctx context.Context, t crm.EntityType, id string) (*pendingWrite, error) {
	k := recKey{t: t, id: id}
	if p, ok := v.pending[k]; ok {
		return p, nil
	}
	p := &pendingWrite{touched: len(v.order)}
	base, err := v.store.getScored(ctx, t, id)
	switch {
	case errors.Is(err, crm.ErrRecordNotFound):
		p.deleted = true
	case err != nil:
		return nil, err
	default:
		p.existed = true
		p.rec = base.rec
		p.baseRefs = base.rec.Refs
		p.baseScore = base.score
	}
	v.pending[k] = p
	v.order = append(v.order, k)
	return p, nil
}

func (v *txView) Get(ctx context.Context, t crm.EntityType, id string) (crm.Record, error) {
	if p, ok := v.pending[recKey{t: t, id: id}]; ok {
		if p.deleted {
			return crm.Record{}, crm.ErrRecordNotFound
		}
		return cloneRecord(p.rec), nil
	}
	return v.store.Get(ctx, t, id)
}

func (v *txView) List(ctx context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	base, err := v.store.listScored(ctx, t, f)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		rec  crm.Record
		tier int
		rank float64
	}
	var merged []ranked
	for _, sr := range base {
		if _, ok := v.pending[recKey{t: t, id: sr.rec.ID}]; ok {
			continue
		}
		merged = append(merged, ranked{rec: sr.rec, rank: sr.score})
	}
	for k, p := range v.pending {
		if k.t != t || p.deleted || !f.Matches(p.rec.Refs) {
			continue
		}
		if p.existed {
			merged = append(merged, ranked{rec: cloneRecord(p.rec), rank: p.baseScore})
		} else {
			merged = append(merged, ranked{rec: cloneRecord(p.rec), tier: 1, rank: float64(p.touched)})
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].tier != merged[j].tier {
			return merged[i].tier < merged[j].tier
		}
		return merged[i].rank < merged[j].rank
	})

	out := make([]crm.Record, len(merged))
	for i, r := range merged {
		out[i] = r.rec
	}
	return out, nil
}

func (v *txView) Put(ctx context.Context, rec crm.Record) error {
	p, err := v.touch(ctx, rec.Type, rec.ID)
	if err != nil {
		return err
	}
	p.rec = cloneRecord(rec)
	p.deleted = false
	return nil
}

func (v *txView) Remove(ctx context.Context, t crm.EntityType, id string) error {
	p, err := v.touch(ctx, t, id)
	if err != nil {
		return err
	}
	if p.deleted {
		return crm.ErrRecordNotFound
	}
	p.deleted = true
	return nil
}

// commit flushes the buffer in one MULTI/EXEC.
func (v *txView) commit(ctx context.Context) error {
	if len(v.order) == 0 {
		return nil
	}
	s := v.store

	var fresh int64
	for _, k := range v.order {
		if p := v.pending[k]; !p.deleted && !p.existed {
			fresh++
		}
	}
	var next int64
	if fresh > 0 {
		last, err := s.rdb.IncrBy(ctx, s.seqKey(), fresh).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		next = last - fresh + 1
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, k := range v.order {
			p := v.pending[k]
			switch {
			case p.deleted && p.existed:
				pipe.HDel(ctx, s.dataKey(k.t), k.id)
				pipe.HDel(ctx, s.refsKey(k.t), k.id)
				pipe.ZRem(ctx, s.orderKey(k.t), k.id)
				for field, value := range p.baseRefs {
					pipe.SRem(ctx, s.refKey(k.t, field, value), k.id)
				}
			case p.deleted:
				// created and removed inside the same transaction
			default:
				if err := s.writeRecord(ctx, pipe, p, next); err != nil {
					return err
				}
				if !p.existed {
					next++
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) writeRecord(ctx context.Context, pipe goredis.Cmdable, p *pendingWrite, seq int64) error {
	rec := p.rec
	refs := rec.Refs
	if refs == nil {
		refs = map[string]string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	pipe.HSet(ctx, s.dataKey(rec.Type), rec.ID, string(rec.Data))
	pipe.HSet(ctx, s.refsKey(rec.Type), rec.ID, string(refsJSON))
	if !p.existed {
		pipe.ZAdd(ctx, s.orderKey(rec.Type), &goredis.Z{Score: float64(seq), Member: rec.ID})
	}
	for field, value := range p.baseRefs {
		if refs[field] != value {
			pipe.SRem(ctx, s.refKey(rec.Type, field, value), rec.ID)
		}
	}
	for field, value := range refs {
		if value != "" {
			pipe.SAdd(ctx, s.refKey(rec.Type, field, value), rec.ID)
		}
	}
	return nil
}

func cloneRecord(rec crm.Record) crm.Record {
	out := crm.Record{Type: rec.Type, ID: rec.ID, Data: append(json.RawMessage(nil), rec.Data...)}
	if rec.Refs != nil {
		out.Refs = make(map[string]string, len(rec.Refs))
		for k, v := range rec.Refs {
			out.Refs[k] = v
		}
	}
	return out
}

// Compile-time interface checks
var (
	_ crm.TxStore     = (*Store)(nil)
	_ crm.EntityStore = (*txView)(nil)
)
