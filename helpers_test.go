package stepauth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lsasec/stepauth/geo"
	"github.com/lsasec/stepauth/store"
)

const (
	testIP        = "203.0.113.10"
	testUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testConfig keeps the Argon2id cost at the validation floor so the
// suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

type testEngine struct {
	*Engine
	repo *store.Memory
	sent *ChannelDelivery
	mr   *miniredis.Miniredis
}

func newTestEngine(t *testing.T, cfg Config, resolver geo.Resolver) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	repo := store.NewMemory()
	sent := NewChannelDelivery(16)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(repo).
		WithDelivery(sent).
		WithGeoResolver(resolver).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, repo: repo, sent: sent, mr: mr}
}

func requestContext(ip, userAgent string) context.Context {
	ctx := context.Background()
	if ip != "" {
		ctx = WithClientIP(ctx, ip)
	}
	if userAgent != "" {
		ctx = WithUserAgent(ctx, userAgent)
	}
	return ctx
}

func registerRequest(username string) RegisterRequest {
	return RegisterRequest{
		Username: username,
		Password: "correct-horse-battery",
		Email:    username + "@example.com",
		Phone:    "+15550100",
		SecurityQuestions: [3]SecurityAnswer{
			{QuestionID: "q1", Answer: "Rex"},
			{QuestionID: "q2", Answer: "Lisbon"},
			{QuestionID: "q3", Answer: "Picard"},
		},
	}
}

func mustRegister(t *testing.T, e *testEngine, username string) *RegisterResult {
	t.Helper()

	res, err := e.Register(requestContext(testIP, testUserAgent), registerRequest(username))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res
}

// drainSent pops one captured delivery or fails the test.
func drainSent(t *testing.T, e *testEngine) SentCode {
	t.Helper()

	select {
	case sent := <-e.sent.Sends():
		return sent
	default:
		t.Fatal("expected a delivered code")
		return SentCode{}
	}
}

// latestCode reads the live code for a pair straight from the store.
func latestCode(t *testing.T, e *testEngine, identityID string, channel store.Channel) *store.OneTimeCode {
	t.Helper()

	code, err := e.repo.UpdateLatestCode(context.Background(), identityID, channel, func(*store.OneTimeCode) error { return nil })
	if err != nil {
		t.Fatalf("no code for %s/%s: %v", identityID, channel, err)
	}
	return code
}
