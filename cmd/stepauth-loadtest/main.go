// Command stepauth-loadtest seeds identities and measures session
// validation and login throughput against a live engine.
//
// With no -redis-addr flag (and no REDIS_ADDR env) it runs fully
// self-contained on miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	stepauth "github.com/lsasec/stepauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type seededIdentity struct {
	username string
	token    string
}

func main() {
	var (
		identities  = flag.Int("identities", 500, "number of identities to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (validate + login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := stepauth.DefaultConfig()
	// Cheap Argon2 parameters and an effectively unlimited abuse budget:
	// the run measures engine throughput, not lockout behavior.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.AbuseGuard.MaxAttempts = *ops * 4

	engine, err := stepauth.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := stepauth.WithClientIP(context.Background(), "203.0.113.10")
	ctx = stepauth.WithUserAgent(ctx, "stepauth-loadtest/1.0")

	const password = "loadtest-password-1"

	seeds := make([]seededIdentity, *identities)
	fmt.Printf("seeding %d identities...\n", *identities)
	startSeed := time.Now()
	for i := 0; i < *identities; i++ {
		username := fmt.Sprintf("load-user-%d", i)
		if _, err := engine.Register(ctx, registerRequest(username, password)); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		result, err := engine.Login(ctx, username, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed login failed: %v\n", err)
			os.Exit(1)
		}
		seeds[i] = seededIdentity{username: username, token: result.SessionToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Session(ctx, seeds[r.Intn(len(seeds))].token)
		return err
	})
	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Login(ctx, seeds[r.Intn(len(seeds))].username, password)
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("login", loginStats)
}

func registerRequest(username, password string) stepauth.RegisterRequest {
	return stepauth.RegisterRequest{
		Username: username,
		Password: password,
		Email:    username + "@example.com",
		Phone:    "+15550100",
		SecurityQuestions: [3]stepauth.SecurityAnswer{
			{QuestionID: "q1", Answer: "rex"},
			{QuestionID: "q2", Answer: "lisbon"},
			{QuestionID: "q3", Answer: "picard"},
		},
	}
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
