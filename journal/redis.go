package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/burntcarrot/otpad/ot"
)

// Redis stores every session as a Redis stream. Entry ids are "0-<rev+1>", so a
// range query starts exactly at a revision.
type Redis struct {
	client *redis.Client
	maxLen int64
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr string, maxLen int64) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}
	return &Redis{client: client, maxLen: maxLen}, nil
}

func streamKey(documentID, session string) string {
	return "otpad:journal:" + streamName(documentID, session)
}

func entryID(rev int) string {
	return fmt.Sprintf("0-%d", rev+1)
}

// Append implements Journal.
func (r *Redis) Append(ctx context.Context, session string, op ot.Operation) error {
	doc, err := documentOf(op)
	if err != nil {
		return err
	}
	data, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "encode operation")
	}

	args := &redis.XAddArgs{
		Stream: streamKey(doc, session),
		ID:     entryID(op.Rev),
		Values: map[string]any{
			"rev": strconv.Itoa(op.Rev),
			"op":  string(data),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	return errors.Wrap(r.client.XAdd(ctx, args).Err(), "append to redis journal")
}

// Since implements Journal.
func (r *Redis) Since(ctx context.Context, documentID, session string, rev int) ([]ot.Operation, error) {
	messages, err := r.client.XRange(ctx, streamKey(documentID, session), entryID(rev), "+").Result()
	if err != nil {
		return nil, errors.Wrap(err, "read redis journal")
	}

	out := make([]ot.Operation, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values["op"].(string)
		if !ok {
			continue
		}
		var op ot.Operation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, errors.Wrapf(err, "decode entry %s", msg.ID)
		}
		out = append(out, op)
	}
	return out, nil
}

// Close implements Journal.
func (r *Redis) Close() error {
	return r.client.Close()
}
