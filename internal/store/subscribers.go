package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NoFilter is the stored value of a subscriber that wants every category.
const NoFilter = "1"

// Directory maps a chat address to its category filter.
// The whole database belongs to the directory; every key is an address.
type Directory struct {
	rdb      *redis.Client
	scanSize int64
}

func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb, scanSize: 256}
}

// ParseFilter decodes a stored value. A nil result means no filter.
func ParseFilter(v string) []string {
	if strings.TrimSpace(v) == NoFilter {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// List returns every subscriber and its filter (nil for no filter).
func (d *Directory) List(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	iter := d.rdb.Scan(ctx, 0, "*", d.scanSize).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, Classify(err)
	}
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, Classify(err)
	}
	for i, k := range keys {
		v, ok := vals[i].(string)
		if !ok {
			// removed between SCAN and MGET
			continue
		}
		out[k] = ParseFilter(v)
	}
	return out, nil
}

// Get returns the filter of one subscriber and whether it is subscribed.
func (d *Directory) Get(ctx context.Context, addr string) ([]string, bool, error) {
	v, err := d.rdb.Get(ctx, addr).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Classify(err)
	}
	return ParseFilter(v), true, nil
}

// Set subscribes addr. An empty category list stores "no filter".
func (d *Directory) Set(ctx context.Context, addr string, categories []string) error {
	v := NoFilter
	if len(categories) > 0 {
		v = strings.Join(categories, ",")
	}
	return Classify(d.rdb.Set(ctx, addr, v, 0).Err())
}

func (d *Directory) Delete(ctx context.Context, addr string) error {
	return Classify(d.rdb.Del(ctx, addr).Err())
}

// Count returns the number of subscribers.
func (d *Directory) Count(ctx context.Context) (int64, error) {
	n, err := d.rdb.DBSize(ctx).Result()
	return n, Classify(err)
}
