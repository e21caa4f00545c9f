package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// Output is the recorded result of one written (or failed) split job.
type Output struct {
	Seq      int    `json:"seq"`
	Name     string `json:"name"`
	Range    string `json:"range"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OutputStore keeps per-job results of a split request in one hash per job.
type OutputStore struct {
	client *redis.Client
}

func NewOutputStore(c *redis.Client) *OutputStore { return &OutputStore{client: c} }

func (s *OutputStore) indexKey(id string) string { return fmt.Sprintf("split:%s:outputs", id) }

func (s *OutputStore) outputKey(id string, seq int) string {
	return fmt.Sprintf("split:%s:output:%d", id, seq)
}

func (s *OutputStore) SaveOutput(ctx context.Context, id string, o Output) error {
	m := map[string]interface{}{"name": o.Name, "range": o.Range}
	if o.Location != "" {
		m["location"] = o.Location
	}
	if o.Error != "" {
		m["error"] = o.Error
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.outputKey(id, o.Seq), m)
	pipe.Expire(ctx, s.outputKey(id, o.Seq), statusTTL)
	pipe.SAdd(ctx, s.indexKey(id), o.Seq)
	pipe.Expire(ctx, s.indexKey(id), statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ListOutputs returns the recorded outputs of id ordered by Seq.
func (s *OutputStore) ListOutputs(ctx context.Context, id string) ([]Output, error) {
	members, err := s.client.SMembers(ctx, s.indexKey(id)).Result()
	if err != nil {
		return nil, err
	}
	seqs := make([]int, 0, len(members))
	for _, m := range members {
		if n, err := strconv.Atoi(m); err == nil {
			seqs = append(seqs, n)
		}
	}
	sort.Ints(seqs)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(seqs))
	for i, n := range seqs {
		cmds[i] = pipe.HGetAll(ctx, s.outputKey(id, n))
	}
	if len(seqs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]Output, 0, len(seqs))
	for i, c := range cmds {
		h := c.Val()
		if len(h) == 0 {
			continue
		}
		out = append(out, Output{Seq: seqs[i], Name: h["name"], Range: h["range"], Location: h["location"], Error: h["error"]})
	}
	return out, nil
}
