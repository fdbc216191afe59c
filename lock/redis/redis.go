// Package redis provides a Locker shared by every replica pointed at the same
// Redis. Leases are SET NX PX keys holding a random token; they are refreshed
// while held and removed with a compare-and-delete script on release.
//
// Read and write leases are both exclusive here.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/entrysync"
)

var (
	ErrNilClient = errors.New("redis lock: nil client")
	// ErrLeaseLost is returned by Release when the key expired or was taken
	// over before the lease was released.
	ErrLeaseLost = errors.New("redis lock: lease lost")
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// MinTTL is the shortest lease expiry; shorter TTLs are raised to it.
const MinTTL = 100 * time.Millisecond

type Config struct {
	Client    goredis.UniversalClient
	Namespace string        // key prefix; "" => "entrysync"
	TTL       time.Duration // lease expiry; 0 => 30s, at least MinTTL
	Poll      time.Duration // wait between SET NX attempts; 0 => 5ms
}

type Locker struct {
	rdb  goredis.UniversalClient
	ns   string
	ttl  time.Duration
	poll time.Duration
}

var _ entrysync.Locker = (*Locker)(nil)

func New(cfg Config) (*Locker, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	l := &Locker{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, poll: cfg.Poll}
	if l.ns == "" {
		l.ns = "entrysync"
	}
	switch {
	case l.ttl <= 0:
		l.ttl = 30 * time.Second
	case l.ttl < MinTTL:
		l.ttl = MinTTL
	}
	if l.poll <= 0 {
		l.poll = 5 * time.Millisecond
	}
	return l, nil
}

func (l *Locker) key(k string) string { return "lock:" + l.ns + ":" + k }

// Acquire polls SET NX until the key is free or ctx is done.
//
// SET NX itself is not cancelled by ctx: the server may apply it even when
// the reply is lost. On any error the token is compare-and-deleted so a
// lease nobody holds does not block the key until it expires.
func (l *Locker) Acquire(ctx context.Context, key string, _ entrysync.Mode) (entrysync.Lease, error) {
	k := l.key(key)
	token := uuid.NewString()
	bg := context.WithoutCancel(ctx)

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		ok, err := l.rdb.SetNX(bg, k, token, l.ttl).Result()
		if err != nil {
			_ = releaseScript.Run(bg, l.rdb, []string{k}, token).Err()
			return nil, err
		}
		if ok {
			return l.hold(k, token), nil
		}
		t.Reset(l.poll)
	}
}

func (l *Locker) hold(k, token string) *lease {
	ctx, cancel := context.WithCancel(context.Background())
	ls := &lease{l: l, key: k, token: token, stop: cancel, done: make(chan struct{})}
	go ls.refresh(ctx)
	return ls
}

type lease struct {
	l     *Locker
	key   string
	token string
	stop  context.CancelFunc
	done  chan struct{}

	once sync.Once
	err  error
}

// refresh extends the key at a third of its TTL until stopped. A refresh
// that finds a foreign token ends the loop; Release reports the loss.
func (ls *lease) refresh(ctx context.Context) {
	defer close(ls.done)
	tick := time.NewTicker(ls.l.ttl / 3)
	defer tick.Stop()
	ms := ls.l.ttl.Milliseconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := refreshScript.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token, ms).Int64()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (ls *lease) Release(ctx context.Context) error {
	ls.once.Do(func() {
		ls.stop()
		<-ls.done
		n, err := releaseScript.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token).Int64()
		switch {
		case err != nil:
			ls.err = err
		case n == 0:
			ls.err = ErrLeaseLost
		}
	})
	return ls.err
}
