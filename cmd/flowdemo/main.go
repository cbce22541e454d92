// Command flowdemo wires a small state machine end to end: builder, a
// persister, and the four observability adapters in obs/, grounded on the
// reference architecture's examples/sqlite_quickstart demo.
//
// Default mode runs one Application to completion against a SQLite-backed
// persister and reloads it to show the record survives the process. Pass
// -fleet N to instead run N independent Applications concurrently against a
// single shared in-memory store, demonstrating the boundary the Non-goals
// section draws: independent machines run concurrently; one machine never
// fans out internally.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/flowcraft/stategraph/flow"
	"github.com/flowcraft/stategraph/obs"
	"github.com/flowcraft/stategraph/persist/memory"
	"github.com/flowcraft/stategraph/persist/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	fleet := flag.Int("fleet", 0, "run N independent Applications concurrently against a shared store instead of one")
	dbPath := flag.String("db", "./flowdemo.db", "SQLite database path for single-application mode")
	jsonLog := flag.Bool("json", false, "emit log hook output as JSON instead of text")
	flag.Parse()

	if *fleet > 0 {
		runFleet(*fleet, *jsonLog)
		return
	}
	runSingle(*dbPath, *jsonLog)
}

// scoreGraph builds the three-action "collect -> validate -> (retry |
// finish)" graph shared by every mode: collect proposes an answer, validate
// scores it and loops collect until the score clears a threshold, finish
// records completion.
func scoreGraph() ([]flow.Action, []flow.Transition, string) {
	collect := flow.SingleStepFunc("collect", nil, []string{"attempts", "score", "message"},
		func(ctx context.Context, s flow.State, inputs map[string]any) (map[string]any, flow.State, error) {
			attempts, _ := s.MustGet("attempts").(int)
			attempts++
			score := attempts * 35
			if score > 100 {
				score = 100
			}
			// Simulate an LLM-backed proposal step: a real action would get
			// these numbers from model.ChatOut.Usage after calling
			// model.ChatModel.Chat. Logging them here is what lets
			// obs.CostHook attribute a dollar cost to this step.
			flow.LogAttribute(ctx, "model", "gpt-4o-mini")
			flow.LogAttribute(ctx, "tokens_in", 180)
			flow.LogAttribute(ctx, "tokens_out", 40)

			result := map[string]any{"attempts": attempts, "score": score}
			newState := s.Update(map[string]any{
				"attempts": attempts,
				"score":    score,
				"message":  fmt.Sprintf("attempt %d scored %d", attempts, score),
			})
			return result, newState, nil
		})

	validate := flow.SingleStepFunc("validate", []string{"score"}, []string{"message"},
		func(ctx context.Context, s flow.State, inputs map[string]any) (map[string]any, flow.State, error) {
			score, _ := s.MustGet("score").(int)
			msg := fmt.Sprintf("validated score %d", score)
			return map[string]any{"score": score}, s.Update(map[string]any{"message": msg}), nil
		})

	finish := flow.SingleStepFunc("finish", []string{"attempts", "score"}, []string{"done"},
		func(ctx context.Context, s flow.State, inputs map[string]any) (map[string]any, flow.State, error) {
			return map[string]any{"final_score": s.MustGet("score")}, s.Update(map[string]any{"done": true}), nil
		})

	transitions := []flow.Transition{
		{From: "collect", To: "validate", Condition: flow.Default{}},
		{From: "validate", To: "collect", Condition: flow.Expr("needs_retry", "score < 80")},
		{From: "validate", To: "finish", Condition: flow.Default{}},
	}

	return []flow.Action{collect, validate, finish}, transitions, "collect"
}

func buildHooks(jsonLog bool) (*flow.Registry, *prometheus.Registry, *obs.CostHook) {
	registry := flow.NewRegistry()
	reg := prometheus.NewRegistry()

	tp := sdktrace.NewTracerProvider()
	tracer := tp.Tracer("flowdemo")
	costHook := obs.NewCostHook(nil)

	registry.Register(obs.NewLogEmitter(os.Stdout, jsonLog))
	registry.Register(obs.NewOTelHook(tracer))
	registry.Register(obs.NewPromHook(reg))
	registry.Register(costHook)

	return registry, reg, costHook
}

func runSingle(dbPath string, jsonLog bool) {
	fmt.Println("flowdemo: single application")
	fmt.Println("============================")
	fmt.Println()

	ctx := context.Background()

	// 1. Open a SQLite-backed persister; the database and schema are
	//    created automatically on first use.
	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()
	fmt.Printf("opened SQLite persister at %s\n\n", dbPath)

	// 2. Assemble the graph and hook registry.
	actions, transitions, entrypoint := scoreGraph()
	registry, promReg, costHook := buildHooks(jsonLog)

	appID := "flowdemo-single"

	// 3. Build the application. Build resumes from the persister if a
	//    record for appID already exists, else seeds fresh state.
	app, err := flow.NewBuilder().
		WithActions(actions...).
		WithTransitions(transitions...).
		WithEntrypoint(entrypoint).
		WithRegistry(registry).
		WithPersister(store).
		WithAppID(appID).
		WithInitialState(map[string]any{"attempts": 0, "score": 0}).
		WithOptions(flow.WithMaxSteps(20)).
		Build(ctx)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	fmt.Println("running to completion...")
	fmt.Println("-------------------------")
	outcome, err := app.Run(ctx, nil, []string{"finish"}, nil)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	fmt.Println("-------------------------")
	fmt.Printf("\ncompleted at action %q\n", outcome.Action)
	fmt.Printf("  attempts: %v\n", outcome.State.MustGet("attempts"))
	fmt.Printf("  score:    %v\n", outcome.State.MustGet("score"))
	fmt.Printf("  message:  %v\n\n", outcome.State.MustGet("message"))

	// 3b. Demonstrate a named checkpoint (persist/sqlite implements
	//     flow.CheckpointPersister) and the replay-mismatch check a caller
	//     resuming from an at-least-once delivery source would run before
	//     re-applying a message it already applied.
	fmt.Println("demonstrating checkpoint + replay check...")
	fmt.Println("--------------------------------------------")
	if err := app.Checkpoint(ctx, "post_run", "flowdemo-single-run-1"); err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	fmt.Println("saved checkpoint \"post_run\"")
	if ok, err := app.ReplayCheck("finish", map[string]any{}); err != nil {
		log.Fatalf("replay check: %v", err)
	} else {
		fmt.Printf("replay check for finish(nil): ok=%v (matches the inputs finish last completed with)\n\n", ok)
	}

	// 4. Demonstrate persistence: reload the same application from a
	//    fresh builder and confirm the state survives.
	fmt.Println("demonstrating persistence...")
	fmt.Println("-----------------------------")
	reloaded, err := flow.NewBuilder().
		WithActions(actions...).
		WithTransitions(transitions...).
		WithEntrypoint(entrypoint).
		WithPersister(store).
		WithAppID(appID).
		Build(ctx)
	if err != nil {
		log.Fatalf("rebuild application: %v", err)
	}
	fmt.Printf("reloaded state: attempts=%v score=%v done=%v\n\n",
		reloaded.State().MustGet("attempts"), reloaded.State().MustGet("score"), reloaded.State().MustGet("done"))

	metrics, err := promReg.Gather()
	if err != nil {
		log.Fatalf("gather metrics: %v", err)
	}
	fmt.Printf("prometheus registered %d metric families\n", len(metrics))
	fmt.Printf("%s\n", costHook)

	fmt.Println("\nflowdemo complete.")
	fmt.Println("Key features demonstrated:")
	fmt.Println("  - builder -> application -> run loop wiring")
	fmt.Println("  - SQLite-backed state persistence across a process boundary")
	fmt.Println("  - log, OTel, and Prometheus hooks observing the same run")
	fmt.Println("  - a step budget (WithMaxSteps), a named checkpoint, and a replay check")
	fmt.Println("  - LLM token-cost attribution (obs.CostHook) on every collect step")
}

// runFleet runs n independent Applications concurrently against a single
// shared in-memory store, each under its own partition key, to demonstrate
// that concurrency in this system comes from running many machines, never
// from one machine fanning out internally.
func runFleet(n int, jsonLog bool) {
	fmt.Printf("flowdemo: fleet mode (%d independent applications)\n", n)
	fmt.Println("====================================================")
	fmt.Println()

	ctx := context.Background()
	store := memory.New()
	registry, promReg, costHook := buildHooks(jsonLog)

	var wg sync.WaitGroup
	results := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			actions, transitions, entrypoint := scoreGraph()
			appID := fmt.Sprintf("worker-%d", i)
			partitionKey := fmt.Sprintf("fleet-%d", i)

			app, err := flow.NewBuilder().
				WithActions(actions...).
				WithTransitions(transitions...).
				WithEntrypoint(entrypoint).
				WithRegistry(registry).
				WithPersister(store).
				WithAppID(appID).
				WithPartitionKey(partitionKey).
				WithInitialState(map[string]any{"attempts": 0, "score": 0}).
				Build(ctx)
			if err != nil {
				results <- fmt.Sprintf("worker %d: build failed: %v", i, err)
				return
			}

			outcome, err := app.Run(ctx, nil, []string{"finish"}, nil)
			if err != nil {
				results <- fmt.Sprintf("worker %d: run failed: %v", i, err)
				return
			}
			results <- fmt.Sprintf("worker %d: finished after %v attempts, score %v",
				i, outcome.State.MustGet("attempts"), outcome.State.MustGet("score"))
		}(i)
	}

	wg.Wait()
	close(results)

	for r := range results {
		fmt.Println(r)
	}

	metrics, err := promReg.Gather()
	if err != nil {
		log.Fatalf("gather metrics: %v", err)
	}
	fmt.Printf("\nprometheus registered %d metric families across %d concurrent applications\n", len(metrics), n)
	fmt.Printf("%s\n", costHook)
	fmt.Println("\nfleet mode complete: each application ran its own sequential step loop; none fanned out internally.")
}
