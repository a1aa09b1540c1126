// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package lock

import (
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/infinite-iroha/minato/davpath"
)

// RedisStore is the persistent lock storage. Records live in hashes keyed
// by token, with a set per covered URL pointing back at the tokens and a
// set of all locked URLs for descendant enumeration. Expiry is stored in
// the record hash and purged lazily on access, the same discipline as the
// in-memory store.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
	now    func() time.Time
}

const (
	redisTokenKey = "t:" // hash per token
	redisURLKey   = "u:" // set of tokens per covered url
	redisCoverKey = "c:" // set of covered urls per token
	redisURLSet   = "urls"
)

// NewRedisStore creates a lock storage on the given Redis address.
// prefix namespaces every key; an empty prefix defaults to "minato:l:".
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "minato:l:"
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
	return &RedisStore{pool: pool, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}

func (s *RedisStore) key(kind, name string) string {
	return s.prefix + kind + name
}

// load reads and decodes one record, purging it when expired. Returns nil
// without error when absent or expired.
func (s *RedisStore) load(conn redis.Conn, token string) (*Record, error) {
	vals, err := redis.StringMap(conn.Do("HGETALL", s.key(redisTokenKey, token)))
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	rec := &Record{
		Token:         token,
		Root:          vals["root"],
		OwnerXML:      vals["owner"],
		Principal:     vals["principal"],
		Scope:         Exclusive,
		InfiniteDepth: vals["depth"] == "i",
		URLs:          make(map[string]bool),
	}
	if vals["scope"] == "s" {
		rec.Scope = Shared
	}
	if secs, _ := strconv.ParseInt(vals["timeout"], 10, 64); secs < 0 {
		rec.Timeout = Infinite
	} else {
		rec.Timeout = time.Duration(secs) * time.Second
	}
	if unix, _ := strconv.ParseInt(vals["expire"], 10, 64); unix > 0 {
		rec.Expire = time.Unix(unix, 0)
	}
	if rec.Expired(s.now()) {
		if err := s.remove(conn, rec.Token); err != nil {
			return nil, err
		}
		return nil, nil
	}
	urls, err := redis.Strings(conn.Do("SMEMBERS", s.key(redisCoverKey, token)))
	if err != nil {
		return nil, err
	}
	for _, u := range urls {
		rec.URLs[u] = true
	}
	return rec, nil
}

// remove deletes a record and unindexes every URL it covered.
func (s *RedisStore) remove(conn redis.Conn, token string) error {
	urls, err := redis.Strings(conn.Do("SMEMBERS", s.key(redisCoverKey, token)))
	if err != nil {
		return err
	}
	conn.Send("MULTI")
	for _, u := range urls {
		conn.Send("SREM", s.key(redisURLKey, u), token)
	}
	conn.Send("DEL", s.key(redisCoverKey, token), s.key(redisTokenKey, token))
	if _, err := conn.Do("EXEC"); err != nil {
		return err
	}
	// Drop URLs whose token set went empty from the enumeration index.
	for _, u := range urls {
		n, err := redis.Int(conn.Do("SCARD", s.key(redisURLKey, u)))
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := conn.Do("SREM", s.key(redisURLSet), u); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) Get(token string) (*Record, error) {
	conn := s.pool.Get()
	defer conn.Close()
	return s.load(conn, token)
}

func (s *RedisStore) Create(rec Record) (*Record, error) {
	conn := s.pool.Get()
	defer conn.Close()

	rec.Token = GenerateToken()
	rec.Expire = expiry(s.now(), rec.Timeout)
	if rec.URLs == nil {
		rec.URLs = make(map[string]bool)
	}
	rec.URLs[rec.Root] = true

	scope := "x"
	if rec.Scope == Shared {
		scope = "s"
	}
	depth := "0"
	if rec.InfiniteDepth {
		depth = "i"
	}
	timeout := int64(-1)
	if rec.Timeout != Infinite {
		timeout = int64(rec.Timeout / time.Second)
	}
	var expire int64
	if !rec.Expire.IsZero() {
		expire = rec.Expire.Unix()
	}

	conn.Send("MULTI")
	conn.Send("HSET", s.key(redisTokenKey, rec.Token),
		"root", rec.Root,
		"scope", scope,
		"depth", depth,
		"owner", rec.OwnerXML,
		"principal", rec.Principal,
		"timeout", timeout,
		"expire", expire,
	)
	for u := range rec.URLs {
		conn.Send("SADD", s.key(redisCoverKey, rec.Token), u)
		conn.Send("SADD", s.key(redisURLKey, u), rec.Token)
		conn.Send("SADD", s.key(redisURLSet), u)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

func (s *RedisStore) Refresh(token string, timeout time.Duration) (*Record, error) {
	conn := s.pool.Get()
	defer conn.Close()
	rec, err := s.load(conn, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoSuchLock
	}
	rec.Timeout = timeout
	rec.Expire = expiry(s.now(), timeout)
	secs := int64(-1)
	if timeout != Infinite {
		secs = int64(timeout / time.Second)
	}
	var expire int64
	if !rec.Expire.IsZero() {
		expire = rec.Expire.Unix()
	}
	if _, err := conn.Do("HSET", s.key(redisTokenKey, token), "timeout", secs, "expire", expire); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Delete(token string) error {
	conn := s.pool.Get()
	defer conn.Close()
	rec, err := s.load(conn, token)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoSuchLock
	}
	return s.remove(conn, token)
}

func (s *RedisStore) Cover(token, url string) error {
	conn := s.pool.Get()
	defer conn.Close()
	rec, err := s.load(conn, token)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoSuchLock
	}
	conn.Send("MULTI")
	conn.Send("SADD", s.key(redisCoverKey, token), url)
	conn.Send("SADD", s.key(redisURLKey, url), token)
	conn.Send("SADD", s.key(redisURLSet), url)
	_, err = conn.Do("EXEC")
	return err
}

func (s *RedisStore) Uncover(url string) error {
	conn := s.pool.Get()
	defer conn.Close()
	tokens, err := redis.Strings(conn.Do("SMEMBERS", s.key(redisURLKey, url)))
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if _, err := conn.Do("SREM", s.key(redisCoverKey, token), url); err != nil {
			return err
		}
		n, err := redis.Int(conn.Do("SCARD", s.key(redisCoverKey, token)))
		if err != nil {
			return err
		}
		if n == 0 {
			if err := s.remove(conn, token); err != nil {
				return err
			}
		}
	}
	conn.Send("MULTI")
	conn.Send("DEL", s.key(redisURLKey, url))
	conn.Send("SREM", s.key(redisURLSet), url)
	_, err = conn.Do("EXEC")
	return err
}

func (s *RedisStore) Enumerate(url string, includeRoot, includeDescendants bool) ([]*Record, error) {
	conn := s.pool.Get()
	defer conn.Close()

	seen := make(map[string]bool)
	var res []*Record
	collect := func(u string) error {
		tokens, err := redis.Strings(conn.Do("SMEMBERS", s.key(redisURLKey, u)))
		if err != nil {
			return err
		}
		for _, token := range tokens {
			if seen[token] {
				continue
			}
			seen[token] = true
			rec, err := s.load(conn, token)
			if err != nil {
				return err
			}
			if rec != nil {
				res = append(res, rec)
			}
		}
		return nil
	}

	if includeRoot {
		if err := collect(url); err != nil {
			return nil, err
		}
	}
	if includeDescendants {
		urls, err := redis.Strings(conn.Do("SMEMBERS", s.key(redisURLSet)))
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			if u == url || !davpath.InTree(u, url) {
				continue
			}
			if err := collect(u); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}
