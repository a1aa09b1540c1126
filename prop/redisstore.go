// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package prop

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisStore persists dead properties in one Redis hash per reference
// URL, fields named in Clark notation.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
}

// NewRedisStore creates a property store on the given Redis address.
// An empty prefix defaults to "minato:p:".
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "minato:p:"
	}
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialDatabase(db)}
			if password != "" {
				opts = append(opts, redis.DialPassword(password))
			}
			return redis.Dial("tcp", addr, opts...)
		},
	}
	return &RedisStore{pool: pool, prefix: prefix}
}

func (s *RedisStore) Close() error { return s.pool.Close() }

func (s *RedisStore) key(ref string) string { return s.prefix + ref }

func (s *RedisStore) Get(ref string, k Key) (string, bool, error) {
	conn := s.pool.Get()
	defer conn.Close()
	v, err := redis.String(conn.Do("HGET", s.key(ref), k.Clark()))
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ref string, k Key, value string) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("HSET", s.key(ref), k.Clark(), value)
	return err
}

func (s *RedisStore) Remove(ref string, k Key) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("HDEL", s.key(ref), k.Clark())
	return err
}

func (s *RedisStore) List(ref string) ([]Key, error) {
	conn := s.pool.Get()
	defer conn.Close()
	fields, err := redis.Strings(conn.Do("HKEYS", s.key(ref)))
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(fields))
	for _, f := range fields {
		k, err := ParseClark(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *RedisStore) CopyAll(src, dst string) error {
	conn := s.pool.Get()
	defer conn.Close()
	vals, err := redis.StringMap(conn.Do("HGETALL", s.key(src)))
	if err != nil {
		return err
	}
	conn.Send("MULTI")
	conn.Send("DEL", s.key(dst))
	if len(vals) > 0 {
		args := redis.Args{}.Add(s.key(dst))
		for f, v := range vals {
			args = args.Add(f, v)
		}
		conn.Send("HSET", args...)
	}
	_, err = conn.Do("EXEC")
	return err
}

func (s *RedisStore) MoveAll(src, dst string) error {
	conn := s.pool.Get()
	defer conn.Close()
	exists, err := redis.Bool(conn.Do("EXISTS", s.key(src)))
	if err != nil {
		return err
	}
	conn.Send("MULTI")
	conn.Send("DEL", s.key(dst))
	if exists {
		conn.Send("RENAME", s.key(src), s.key(dst))
	}
	_, err = conn.Do("EXEC")
	return err
}

func (s *RedisStore) DeleteAll(ref string) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("DEL", s.key(ref))
	return err
}
