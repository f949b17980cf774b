package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/fake"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/metrics/export/prometheus"
)

type client struct {
	email  string
	prefix string
	idp    *fake.Identity
	ctrl   *authflow.Controller
}

type world struct {
	cfg        authflow.Config
	redis      redis.UniversalClient
	tokens     *jwt.Manager
	profiles   *fake.Profiles
	agreements *fake.Agreements
	auditSink  authflow.AuditSink
	logger     *slog.Logger
}

func main() {
	var (
		clients     = flag.Int("clients", 200, "number of simulated browser contexts")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		declineRate = flag.Float64("decline-rate", 0.05, "fraction of clients that decline the agreement")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address after the run")
		auditJSON   = flag.Bool("audit", false, "write audit events to stdout as JSON lines")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *declineRate < 0 || *declineRate > 1 {
		fmt.Fprintln(os.Stderr, "clients and concurrency must be > 0, decline-rate in [0,1]")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := authflow.LoadConfigFromEnv("AUTHFLOW_")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg.Audit.Enabled = *auditJSON

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("authflow-sim-signing-key"),
		Issuer:        "authflow-sim",
		AccessTTL:     time.Hour,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token manager: %v\n", err)
		os.Exit(1)
	}

	w := &world{
		cfg:        cfg,
		redis:      rdb,
		tokens:     tokens,
		profiles:   fake.NewProfiles(),
		agreements: fake.NewAgreements(),
		logger:     logger,
	}
	if *auditJSON {
		w.auditSink = authflow.NewJSONWriterSink(os.Stdout)
	}
	w.agreements.SetDocument("player", 1, true)
	w.agreements.SetDocument("coach", 1, true)
	w.agreements.SetDocument("admin", 1, false)

	ctx := context.Background()
	pop := w.seed(*clients)

	signIn := runPhase(pop, *concurrency, func(c *client, r *rand.Rand) error {
		ctrl, err := w.open(c)
		if err != nil {
			return err
		}
		c.ctrl = ctrl
		if res := ctrl.SignIn(ctx, c.email, "pw"); !res.Success {
			return res.Err
		}
		st := ctrl.State()
		if st.State != authflow.StateAwaitingAgreement {
			return nil
		}
		d := agreement.DecisionAccepted
		if r.Float64() < *declineRate {
			d = agreement.DecisionDeclined
		}
		return ctrl.AcceptAgreement(ctx, d)
	})

	// Every surviving session must come back on a fresh controller.
	restore := runPhase(pop, *concurrency, func(c *client, _ *rand.Rand) error {
		if c.ctrl == nil {
			return fmt.Errorf("no controller for %s", c.email)
		}
		wasReady := c.ctrl.State().State == authflow.StateReady
		c.ctrl.Close()
		ctrl, err := w.open(c)
		if err != nil {
			return err
		}
		c.ctrl = ctrl
		got := ctrl.State().State
		if wasReady && got != authflow.StateReady {
			return fmt.Errorf("%s restored to %s", c.email, got)
		}
		return nil
	})

	signOut := runPhase(pop, *concurrency, func(c *client, _ *rand.Rand) error {
		if c.ctrl.State().State.Authenticated() {
			return c.ctrl.SignOut(ctx)
		}
		return nil
	})

	agg := &aggregate{}
	for _, c := range pop {
		agg.add(c.ctrl)
	}

	fmt.Println("---- results ----")
	printStats("sign_in", signIn)
	printStats("restore", restore)
	printStats("sign_out", signOut)

	exp := prometheus.NewPrometheusExporterFromSource(agg)
	if *metricsAddr == "" {
		fmt.Print(exp.Render())
	} else {
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", exp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}

	for _, c := range pop {
		c.ctrl.Close()
	}
}

func (w *world) seed(n int) []*client {
	roles := []string{"player", "player", "player", "coach", "admin"}
	out := make([]*client, n)
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("u-%d", i)
		email := fmt.Sprintf("player%d@team.gg", i)
		role := roles[i%len(roles)]
		w.profiles.Put(authflow.Profile{
			UserID:             userID,
			Email:              email,
			Role:               role,
			DisplayName:        fmt.Sprintf("Player %d", i),
			OnboardingComplete: true,
		})
		out[i] = &client{
			email:  email,
			prefix: fmt.Sprintf("%s:%d", w.cfg.Session.KeyPrefix, i),
			idp: fake.NewIdentity(
				fake.WithAccount(userID, email, "pw"),
				fake.WithTokenManager(w.tokens),
			),
		}
	}
	return out
}

// open builds and initializes a controller for c, sharing c's provider so a
// stored session can be resumed.
func (w *world) open(c *client) (*authflow.Controller, error) {
	cfg := w.cfg
	cfg.Session.KeyPrefix = c.prefix
	b := authflow.New().
		WithConfig(cfg).
		WithIdentityProvider(c.idp).
		WithProfileService(w.profiles).
		WithAgreementService(w.agreements).
		WithRedis(w.redis).
		WithCredentialInspector(w.tokens).
		WithLogger(w.logger)
	if w.auditSink != nil {
		b = b.WithAuditSink(w.auditSink)
	}
	ctrl, err := b.Build()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ctrl.Initialize(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

type aggregate struct {
	mu       sync.Mutex
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (a *aggregate) add(ctrl *authflow.Controller) {
	if ctrl == nil {
		return
	}
	snap := ctrl.MetricsSnapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshot.Counters == nil {
		a.snapshot.Counters = map[authflow.MetricID]uint64{}
		a.snapshot.Histograms = map[authflow.MetricID][]uint64{}
	}
	for id, v := range snap.Counters {
		a.snapshot.Counters[id] += v
	}
	for id, buckets := range snap.Histograms {
		sum := a.snapshot.Histograms[id]
		if len(sum) < len(buckets) {
			sum = append(sum, make([]uint64, len(buckets)-len(sum))...)
		}
		for i, v := range buckets {
			sum[i] += v
		}
		a.snapshot.Histograms[id] = sum
	}
	a.dropped += ctrl.AuditDropped()
}

func (a *aggregate) MetricsSnapshot() authflow.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

func (a *aggregate) AuditDropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func runPhase(pop []*client, concurrency int, op func(*client, *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(pop))
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
				if i >= len(pop) {
					return
				}
				t0 := time.Now()
				err := op(pop[i], r)
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
	return computeStats(time.Since(start), latencies, failures)
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
	return samples[(len(samples)-1)*p/100]
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
