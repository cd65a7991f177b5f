package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/openfroyo/graphpatch/pkg/registry"
)

// Example_workflow plans a small patch against an in-memory graph, then
// confirms it with the returned code.
func Example_workflow() {
	ctx := context.Background()

	g := graph.NewMemory("900000000000000000")
	g.AddChannel(graph.Channel{ID: "100000000000000002", Name: "general", Kind: graph.KindText})

	reg, err := registry.New(ctx,
		registry.StaticSource{Label: "default", Data: handlers.DefaultOperations},
		handlers.Builtin())
	if err != nil {
		panic(err)
	}
	eng, err := engine.New(reg, handlers.Builtin(), graph.NewMemoryProvider(g))
	if err != nil {
		panic(err)
	}

	plan, err := eng.Plan(ctx, g.TargetID(), `
rename channel 100000000000000002 lobby
topic channel 100000000000000002 "Welcome in"
`, engine.PlanOptions{Actor: "admin"})
	if err != nil {
		panic(err)
	}
	fmt.Print(plan.Summary)

	result, err := eng.Apply(ctx, g.TargetID(), plan.Code, engine.ApplyOptions{Reason: "tidy up", Actor: "admin"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s: %d succeeded, %d failed\n", result.Status, result.SuccessCount, result.FailureCount)

	// Output:
	// 2 actions planned for target 900000000000000000
	//      1  channel.rename
	//      1  channel.topic
	// succeeded: 2 succeeded, 0 failed
}

// Example_gates shows the errors returned when a patch cannot be applied.
func Example_gates() {
	ctx := context.Background()

	g := graph.NewMemory("900000000000000000")
	g.AddChannel(graph.Channel{ID: "100000000000000002", Name: "general", Kind: graph.KindText})

	reg, _ := registry.New(ctx,
		registry.StaticSource{Label: "default", Data: handlers.DefaultOperations},
		handlers.Builtin())
	eng, _ := engine.New(reg, handlers.Builtin(), graph.NewMemoryProvider(g))

	_, err := eng.Apply(ctx, g.TargetID(), "ABC123", engine.ApplyOptions{})
	fmt.Println(errors.Is(err, engine.ErrNoPendingPatch))

	plan, _ := eng.Plan(ctx, g.TargetID(), "delete channel 100000000000000002", engine.PlanOptions{})
	_, err = eng.Apply(ctx, g.TargetID(), plan.Code, engine.ApplyOptions{})
	fmt.Println(errors.Is(err, engine.ErrDestructiveBlocked))

	// Output:
	// true
	// true
}
